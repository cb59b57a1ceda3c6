package rules

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

type mockEventBridge struct {
	EventBridgeAPI
	pages  map[string][]string
	next   map[string]string
	tokens []string
	err    error
}

func (m *mockEventBridge) ListRules(_ context.Context, in *eventbridge.ListRulesInput, _ ...func(*eventbridge.Options)) (*eventbridge.ListRulesOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	token := aws.ToString(in.NextToken)
	m.tokens = append(m.tokens, token)
	out := &eventbridge.ListRulesOutput{}
	for _, name := range m.pages[token] {
		out.Rules = append(out.Rules, ebtypes.Rule{Name: aws.String(name)})
	}
	if next, ok := m.next[token]; ok {
		out.NextToken = aws.String(next)
	}
	return out, nil
}

func TestEventBridge_ListRulesFollowsTokens(t *testing.T) {
	client := &mockEventBridge{
		pages: map[string][]string{
			"":   {"T1Create", "T1Scheduled"},
			"p2": {"T10Create"},
		},
		next: map[string]string{"": "p2"},
	}
	e := NewEventBridge(client, "arn:aws:lambda:us-east-1:1:function:runner")

	names, err := e.ListRules(context.Background(), "T1")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"T1Create", "T1Scheduled", "T10Create"}; !slices.Equal(names, want) {
		t.Errorf("got %v, want %v", names, want)
	}
	if want := []string{"", "p2"}; !slices.Equal(client.tokens, want) {
		t.Errorf("got tokens %v, want %v", client.tokens, want)
	}
}

func TestEventBridge_ListRulesError(t *testing.T) {
	boom := errors.New("throttled")
	e := NewEventBridge(&mockEventBridge{err: boom}, "arn")

	if _, err := e.ListRules(context.Background(), "T1"); !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
}
