// Package cloud loads AWS configuration and describes the deployment stack.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"loadplane/internal/apperr"
	"loadplane/pkg/api"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/smithy-go"
)

// Load returns the default AWS configuration for region. Per-call options
// retarget individual requests at other regions.
func Load(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return cfg, nil
}

// CloudFormationAPI is the subset of the CloudFormation client used by Stack.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, in *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

// Stack describes one CloudFormation stack.
type Stack struct {
	client CloudFormationAPI
	name   string
	region string
}

// NewStack returns a describer for the named stack.
func NewStack(client CloudFormationAPI, name, region string) *Stack {
	return &Stack{client: client, name: name, region: region}
}

// Describe maps a missing stack to STACK_NOT_FOUND, access errors to
// FORBIDDEN and anything else to INTERNAL_SERVER_ERROR.
func (s *Stack) Describe(ctx context.Context) (*api.StackInfo, error) {
	out, err := s.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(s.name),
	})
	if err != nil {
		return nil, classify(s.name, err)
	}
	if len(out.Stacks) == 0 {
		return nil, apperr.StackNotFound(s.name)
	}

	st := out.Stacks[0]
	info := &api.StackInfo{
		StackName: aws.ToString(st.StackName),
		Status:    string(st.StackStatus),
		Region:    s.region,
		Outputs:   make(map[string]string, len(st.Outputs)),
	}
	if st.CreationTime != nil {
		info.CreatedTime = st.CreationTime.UTC().Format(time.RFC3339)
	}
	if st.LastUpdatedTime != nil {
		info.UpdatedTime = st.LastUpdatedTime.UTC().Format(time.RFC3339)
	}
	for _, o := range st.Outputs {
		info.Outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	for _, tag := range st.Tags {
		if aws.ToString(tag.Key) == "SolutionVersion" {
			info.Version = aws.ToString(tag.Value)
		}
	}
	return info, nil
}

func classify(name string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "does not exist"):
			return apperr.StackNotFound(name)
		case apiErr.ErrorCode() == "AccessDenied" || apiErr.ErrorCode() == "AccessDeniedException":
			return apperr.Forbidden(err)
		}
	}
	return apperr.Internal("describe stack "+name, err)
}
