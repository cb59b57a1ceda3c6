// Package rules manages the scheduler rules that re-invoke the engine when a
// scheduled test is due.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Rule name suffixes. A test has at most one rule of each.
const (
	SuffixCreate    = "Create"
	SuffixScheduled = "Scheduled"
)

// ErrNotFound is returned by Scheduler and Permissions implementations for
// rules, targets or permission statements that do not exist.
var ErrNotFound = errors.New("rule resource not found")

// CreateRuleName names the rule that finishes registering a schedule.
func CreateRuleName(testID string) string { return testID + SuffixCreate }

// ScheduledRuleName names the rule that launches the test.
func ScheduledRuleName(testID string) string { return testID + SuffixScheduled }

// Scheduler is the rule-based scheduler.
type Scheduler interface {
	// ListRules returns the names of rules starting with prefix.
	ListRules(ctx context.Context, prefix string) ([]string, error)
	// PutRule creates or updates a rule and returns its ARN.
	PutRule(ctx context.Context, name, expression, description string) (string, error)
	// PutTarget attaches the invocation target with a constant JSON input.
	PutTarget(ctx context.Context, rule, targetID string, input []byte) error
	ListTargets(ctx context.Context, rule string) ([]string, error)
	RemoveTargets(ctx context.Context, rule string, targetIDs []string) error
	DeleteRule(ctx context.Context, name string) error
}

// Permissions grants rules the right to invoke the engine.
type Permissions interface {
	Grant(ctx context.Context, statementID, sourceARN string) error
	Revoke(ctx context.Context, statementID string) error
}

// Metrics observes rule replacement.
type Metrics interface {
	RuleReplaced(ctx context.Context, suffix string)
}

// Manager creates and removes a test's rules. Creating a rule first removes
// every existing rule of the same test so a reschedule never leaves a stale
// trigger behind.
type Manager struct {
	scheduler   Scheduler
	permissions Permissions
	metrics     Metrics
	logger      *slog.Logger
}

// NewManager builds a Manager. metrics may be nil.
func NewManager(s Scheduler, p Permissions, m Metrics, logger *slog.Logger) *Manager {
	return &Manager{scheduler: s, permissions: p, metrics: m, logger: logger}
}

// targetID is the single target every rule carries.
const targetID = "1"

// Replace removes the test's existing rules, then creates name with
// expression and input.
func (m *Manager) Replace(ctx context.Context, testID, name, expression string, input []byte) error {
	if err := m.RemoveAll(ctx, testID); err != nil {
		return err
	}

	arn, err := m.scheduler.PutRule(ctx, name, expression, fmt.Sprintf("Load test schedule for %s", testID))
	if err != nil {
		return fmt.Errorf("put rule %s: %w", name, err)
	}
	if err := m.permissions.Grant(ctx, name, arn); err != nil {
		return fmt.Errorf("grant invoke permission for %s: %w", name, err)
	}
	if err := m.scheduler.PutTarget(ctx, name, targetID, input); err != nil {
		return fmt.Errorf("put target on %s: %w", name, err)
	}

	if m.metrics != nil {
		m.metrics.RuleReplaced(ctx, strings.TrimPrefix(name, testID))
	}
	m.logger.InfoContext(ctx, "rule created", "rule", name, "expression", expression)
	return nil
}

// RemoveAll deletes the Create and Scheduled rules of testID.
func (m *Manager) RemoveAll(ctx context.Context, testID string) error {
	names, err := m.scheduler.ListRules(ctx, testID)
	if err != nil {
		return fmt.Errorf("list rules for %s: %w", testID, err)
	}
	for _, name := range names {
		// The prefix also matches other tests whose id starts with testID.
		if name != CreateRuleName(testID) && name != ScheduledRuleName(testID) {
			continue
		}
		if err := m.Remove(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Remove detaches a rule's targets, revokes its invoke permission and
// deletes it. Parts that are already gone are skipped.
func (m *Manager) Remove(ctx context.Context, name string) error {
	targets, err := m.scheduler.ListTargets(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("list targets of %s: %w", name, err)
	}
	if len(targets) > 0 {
		if err := m.scheduler.RemoveTargets(ctx, name, targets); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("remove targets of %s: %w", name, err)
		}
	}
	if err := m.permissions.Revoke(ctx, name); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("revoke invoke permission for %s: %w", name, err)
	}
	if err := m.scheduler.DeleteRule(ctx, name); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete rule %s: %w", name, err)
	}
	m.logger.InfoContext(ctx, "rule removed", "rule", name)
	return nil
}
