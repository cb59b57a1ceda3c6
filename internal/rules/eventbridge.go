package rules

import (
	"context"
	"errors"

	"loadplane/internal/pager"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// EventBridgeAPI is the subset of the EventBridge client used here.
type EventBridgeAPI interface {
	ListRules(ctx context.Context, in *eventbridge.ListRulesInput, optFns ...func(*eventbridge.Options)) (*eventbridge.ListRulesOutput, error)
	PutRule(ctx context.Context, in *eventbridge.PutRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error)
	PutTargets(ctx context.Context, in *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error)
	ListTargetsByRule(ctx context.Context, in *eventbridge.ListTargetsByRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.ListTargetsByRuleOutput, error)
	RemoveTargets(ctx context.Context, in *eventbridge.RemoveTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.RemoveTargetsOutput, error)
	DeleteRule(ctx context.Context, in *eventbridge.DeleteRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DeleteRuleOutput, error)
}

// EventBridge implements Scheduler with EventBridge rules that invoke a
// Lambda function.
type EventBridge struct {
	client    EventBridgeAPI
	targetARN string
}

// NewEventBridge builds a Scheduler whose rules invoke targetARN.
func NewEventBridge(client EventBridgeAPI, targetARN string) *EventBridge {
	return &EventBridge{client: client, targetARN: targetARN}
}

func (e *EventBridge) ListRules(ctx context.Context, prefix string) ([]string, error) {
	return pager.Collect(pager.All(ctx, func(ctx context.Context, token *string) ([]string, *string, error) {
		out, err := e.client.ListRules(ctx, &eventbridge.ListRulesInput{NamePrefix: aws.String(prefix), NextToken: token})
		if err != nil {
			return nil, nil, err
		}
		names := make([]string, 0, len(out.Rules))
		for _, r := range out.Rules {
			names = append(names, aws.ToString(r.Name))
		}
		return names, out.NextToken, nil
	}))
}

func (e *EventBridge) PutRule(ctx context.Context, name, expression, description string) (string, error) {
	out, err := e.client.PutRule(ctx, &eventbridge.PutRuleInput{
		Name:               aws.String(name),
		ScheduleExpression: aws.String(expression),
		Description:        aws.String(description),
		State:              ebtypes.RuleStateEnabled,
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.RuleArn), nil
}

func (e *EventBridge) PutTarget(ctx context.Context, rule, targetID string, input []byte) error {
	out, err := e.client.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule: aws.String(rule),
		Targets: []ebtypes.Target{{
			Id:    aws.String(targetID),
			Arn:   aws.String(e.targetARN),
			Input: aws.String(string(input)),
		}},
	})
	if err != nil {
		return err
	}
	if out.FailedEntryCount > 0 && len(out.FailedEntries) > 0 {
		return errors.New(aws.ToString(out.FailedEntries[0].ErrorMessage))
	}
	return nil
}

func (e *EventBridge) ListTargets(ctx context.Context, rule string) ([]string, error) {
	out, err := e.client.ListTargetsByRule(ctx, &eventbridge.ListTargetsByRuleInput{Rule: aws.String(rule)})
	if err != nil {
		return nil, translateEventBridge(err)
	}
	ids := make([]string, 0, len(out.Targets))
	for _, t := range out.Targets {
		ids = append(ids, aws.ToString(t.Id))
	}
	return ids, nil
}

func (e *EventBridge) RemoveTargets(ctx context.Context, rule string, targetIDs []string) error {
	_, err := e.client.RemoveTargets(ctx, &eventbridge.RemoveTargetsInput{Rule: aws.String(rule), Ids: targetIDs})
	return translateEventBridge(err)
}

func (e *EventBridge) DeleteRule(ctx context.Context, name string) error {
	_, err := e.client.DeleteRule(ctx, &eventbridge.DeleteRuleInput{Name: aws.String(name)})
	return translateEventBridge(err)
}

func translateEventBridge(err error) error {
	var nf *ebtypes.ResourceNotFoundException
	if errors.As(err, &nf) {
		return ErrNotFound
	}
	return err
}

// LambdaAPI is the subset of the Lambda client used for invoke permissions.
type LambdaAPI interface {
	AddPermission(ctx context.Context, in *lambda.AddPermissionInput, optFns ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error)
	RemovePermission(ctx context.Context, in *lambda.RemovePermissionInput, optFns ...func(*lambda.Options)) (*lambda.RemovePermissionOutput, error)
}

// LambdaPermissions lets EventBridge rules invoke a function.
type LambdaPermissions struct {
	client   LambdaAPI
	function string
}

// NewLambdaPermissions manages invoke permissions on function.
func NewLambdaPermissions(client LambdaAPI, function string) *LambdaPermissions {
	return &LambdaPermissions{client: client, function: function}
}

func (l *LambdaPermissions) Grant(ctx context.Context, statementID, sourceARN string) error {
	_, err := l.client.AddPermission(ctx, &lambda.AddPermissionInput{
		FunctionName: aws.String(l.function),
		StatementId:  aws.String(statementID),
		Action:       aws.String("lambda:InvokeFunction"),
		Principal:    aws.String("events.amazonaws.com"),
		SourceArn:    aws.String(sourceARN),
	})
	var conflict *lambdatypes.ResourceConflictException
	if errors.As(err, &conflict) {
		// statement survived an earlier partial removal
		return nil
	}
	return err
}

func (l *LambdaPermissions) Revoke(ctx context.Context, statementID string) error {
	_, err := l.client.RemovePermission(ctx, &lambda.RemovePermissionInput{
		FunctionName: aws.String(l.function),
		StatementId:  aws.String(statementID),
	})
	var nf *lambdatypes.ResourceNotFoundException
	if errors.As(err, &nf) {
		return ErrNotFound
	}
	return err
}
