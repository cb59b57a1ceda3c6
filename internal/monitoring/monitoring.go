// Package monitoring removes the dashboards and log metric filters derived
// from a test.
package monitoring

import (
	"context"
	"errors"
	"fmt"

	"loadplane/pkg/api"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/smithy-go"
)

// Metric names with a log metric filter per test.
var MetricNames = []string{"numVu", "numSucc", "numFail", "avgRt"}

// ErrAbsent marks a resource that was already gone.
var ErrAbsent = errors.New("monitoring resource absent")

// CloudWatchAPI is the subset of the CloudWatch client used by CloudWatch.
type CloudWatchAPI interface {
	DeleteDashboards(ctx context.Context, in *cloudwatch.DeleteDashboardsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.DeleteDashboardsOutput, error)
}

// LogsAPI is the subset of the CloudWatch Logs client used by CloudWatch.
type LogsAPI interface {
	DeleteMetricFilter(ctx context.Context, in *cloudwatchlogs.DeleteMetricFilterInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DeleteMetricFilterOutput, error)
}

// CloudWatch deletes a test's dashboard and metric filters in one region.
type CloudWatch struct {
	dashboards CloudWatchAPI
	logs       LogsAPI
}

// NewCloudWatch returns a cleaner over the two clients.
func NewCloudWatch(dashboards CloudWatchAPI, logs LogsAPI) *CloudWatch {
	return &CloudWatch{dashboards: dashboards, logs: logs}
}

// DashboardName names the live dashboard of a test in a region.
func DashboardName(testID, region string) string {
	return fmt.Sprintf("EcsLoadTesting-%s-%s", testID, region)
}

// MetricFilterName names the filter extracting metric from the region's task logs.
func MetricFilterName(logGroup, metric, testID string) string {
	return fmt.Sprintf("%s-Ecs%s-%s", logGroup, metric, testID)
}

// Cleanup deletes the dashboard and every metric filter of testID in the
// region. Resources that are already gone count as deleted.
func (c *CloudWatch) Cleanup(ctx context.Context, testID string, cfg api.RegionalConfig) error {
	_, err := c.dashboards.DeleteDashboards(ctx, &cloudwatch.DeleteDashboardsInput{
		DashboardNames: []string{DashboardName(testID, cfg.Region)},
	}, func(o *cloudwatch.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		}
	})
	if err = absentOK(err); err != nil {
		return fmt.Errorf("delete dashboard of %s in %s: %w", testID, cfg.Region, err)
	}

	if cfg.LogGroup == "" {
		return nil
	}
	for _, metric := range MetricNames {
		_, err := c.logs.DeleteMetricFilter(ctx, &cloudwatchlogs.DeleteMetricFilterInput{
			LogGroupName: aws.String(cfg.LogGroup),
			FilterName:   aws.String(MetricFilterName(cfg.LogGroup, metric, testID)),
		}, func(o *cloudwatchlogs.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			}
		})
		if err = absentOK(err); err != nil {
			return fmt.Errorf("delete metric filter %s of %s in %s: %w", metric, testID, cfg.Region, err)
		}
	}
	return nil
}

// absentOK drops not-found errors.
func absentOK(err error) error {
	if err == nil || IsAbsent(err) {
		return nil
	}
	return err
}

// IsAbsent reports whether err says the resource does not exist.
func IsAbsent(err error) bool {
	if errors.Is(err, ErrAbsent) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFound", "ResourceNotFoundException", "DashboardNotFoundError":
			return true
		}
	}
	return false
}

// Noop is the cleaner for deployments without dashboards.
type Noop struct{}

func (Noop) Cleanup(context.Context, string, api.RegionalConfig) error { return nil }
