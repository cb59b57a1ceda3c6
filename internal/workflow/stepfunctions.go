package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
)

// SFNAPI is the subset of the Step Functions client used by StepFunctions.
type SFNAPI interface {
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// StepFunctions starts executions of a state machine.
type StepFunctions struct {
	client       SFNAPI
	stateMachine string
}

// NewStepFunctions returns a Starter for the state machine ARN.
func NewStepFunctions(client SFNAPI, stateMachineARN string) *StepFunctions {
	return &StepFunctions{client: client, stateMachine: stateMachineARN}
}

// StartExecution names the execution after the run so a retried start
// cannot launch the run twice.
func (s *StepFunctions) StartExecution(ctx context.Context, in Input) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	out, err := s.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.stateMachine),
		Name:            aws.String(in.TestRunID),
		Input:           aws.String(string(payload)),
	})
	if err != nil {
		return "", fmt.Errorf("start execution for %s: %w", in.TestID, err)
	}
	return aws.ToString(out.ExecutionArn), nil
}
