package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"loadplane/internal/compute"
	"loadplane/internal/pager"
	"loadplane/pkg/api"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// LambdaAPI is the subset of the Lambda client used by LambdaCanceler.
type LambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaCanceler invokes the regional task-cancellation function
// asynchronously.
type LambdaCanceler struct {
	client   LambdaAPI
	function string
}

// NewLambdaCanceler returns a Canceler invoking function in each region.
func NewLambdaCanceler(client LambdaAPI, function string) *LambdaCanceler {
	return &LambdaCanceler{client: client, function: function}
}

type cancelPayload struct {
	TestID string `json:"testId"`
	Region string `json:"region"`
}

func (c *LambdaCanceler) Cancel(ctx context.Context, testID string, cfg api.RegionalConfig) error {
	payload, err := json.Marshal(cancelPayload{TestID: testID, Region: cfg.Region})
	if err != nil {
		return err
	}
	_, err = c.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(c.function),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	}, func(o *lambda.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		}
	})
	if err != nil {
		return fmt.Errorf("invoke %s in %s: %w", c.function, cfg.Region, err)
	}
	return nil
}

// PoolCanceler stops a test's tasks directly on the compute pool.
type PoolCanceler struct {
	pool   compute.Pool
	logger *slog.Logger
}

// NewPoolCanceler returns a Canceler for pools the engine can reach itself.
func NewPoolCanceler(pool compute.Pool, logger *slog.Logger) *PoolCanceler {
	return &PoolCanceler{pool: pool, logger: logger}
}

func (c *PoolCanceler) Cancel(ctx context.Context, testID string, cfg api.RegionalConfig) error {
	list := func(ctx context.Context, token string) ([]string, string, error) {
		return c.pool.ListTasks(ctx, cfg, testID, token)
	}
	ids, err := pager.Collect(pager.All(ctx, list))
	if err != nil {
		return fmt.Errorf("list tasks of %s in %s: %w", testID, cfg.Region, err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := c.pool.StopTasks(ctx, cfg, ids, "Test cancelled"); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "tasks stopped", "test_id", testID, "region", cfg.Region, "count", len(ids))
	return nil
}
