package rules

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"loadplane/internal/store"

	"github.com/robfig/cron/v3"
	"k8s.io/utils/clock"
)

// FireFunc receives the input of a rule when it fires.
type FireFunc func(ctx context.Context, input []byte) error

// Local is an in-process Scheduler for deployments without a managed rule
// service. Rules fire through FireFunc and are written through to a
// RuleStore, from which Restore rebuilds them after a restart. It also
// satisfies Permissions, which it does not need.
type Local struct {
	mu     sync.Mutex
	runner *cron.Cron
	rules  map[string]*localRule
	store  store.RuleStore
	fire   FireFunc
	clock  clock.PassiveClock
	logger *slog.Logger
}

type localRule struct {
	expression string
	entry      cron.EntryID
	firstYear  int
	lastYear   int
	input      []byte
	hasTarget  bool
}

// NewLocal builds a Local scheduler. A nil rule store keeps rules in memory
// only. Call Restore and then Start to begin firing.
func NewLocal(fire FireFunc, rs store.RuleStore, clk clock.PassiveClock, logger *slog.Logger) *Local {
	return &Local{
		runner: cron.New(cron.WithLocation(time.UTC)),
		rules:  make(map[string]*localRule),
		store:  rs,
		fire:   fire,
		clock:  clk,
		logger: logger,
	}
}

// Restore registers every persisted rule. Rules whose expression no longer
// parses are logged and skipped.
func (l *Local) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	saved, err := l.store.ListScheduleRules(ctx)
	if err != nil {
		return fmt.Errorf("load schedule rules: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range saved {
		sched, first, last, err := parseRuleExpression(r.Expression)
		if err != nil {
			l.logger.Warn("skipping stored schedule rule", "rule", r.Name, "error", err)
			continue
		}
		rule := &localRule{expression: r.Expression, firstYear: first, lastYear: last}
		if r.HasTarget {
			rule.input, rule.hasTarget = slices.Clone(r.Input), true
		}
		l.schedule(r.Name, rule, sched)
	}
	l.logger.Info("restored schedule rules", "count", len(saved))
	return nil
}

// schedule registers rule under name, replacing any previous entry.
// The caller holds l.mu.
func (l *Local) schedule(name string, rule *localRule, sched cron.Schedule) {
	if prev, ok := l.rules[name]; ok {
		l.runner.Remove(prev.entry)
	}
	rule.entry = l.runner.Schedule(sched, cron.FuncJob(func() { l.run(name) }))
	l.rules[name] = rule
}

// save writes a rule through to the store. The caller holds l.mu.
func (l *Local) save(ctx context.Context, name string, rule *localRule) error {
	if l.store == nil {
		return nil
	}
	return l.store.PutScheduleRule(ctx, &store.ScheduleRule{
		Name:       name,
		Expression: rule.expression,
		Input:      rule.input,
		HasTarget:  rule.hasTarget,
	})
}

// Start begins firing rules in the background.
func (l *Local) Start() { l.runner.Start() }

// Stop stops firing and waits for running invocations.
func (l *Local) Stop() { <-l.runner.Stop().Done() }

func (l *Local) ListRules(_ context.Context, prefix string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var names []string
	for name := range l.rules {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

func (l *Local) PutRule(ctx context.Context, name, expression, _ string) (string, error) {
	sched, first, last, err := parseRuleExpression(expression)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rule := &localRule{expression: expression, firstYear: first, lastYear: last}
	if prev, ok := l.rules[name]; ok {
		rule.input, rule.hasTarget = prev.input, prev.hasTarget
	}
	if err := l.save(ctx, name, rule); err != nil {
		return "", err
	}
	l.schedule(name, rule, sched)
	return "local:rule/" + name, nil
}

func (l *Local) PutTarget(ctx context.Context, rule, _ string, input []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.rules[rule]
	if !ok {
		return ErrNotFound
	}
	next := *r
	next.input, next.hasTarget = slices.Clone(input), true
	if err := l.save(ctx, rule, &next); err != nil {
		return err
	}
	r.input, r.hasTarget = next.input, true
	return nil
}

func (l *Local) ListTargets(_ context.Context, rule string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.rules[rule]
	if !ok {
		return nil, ErrNotFound
	}
	if !r.hasTarget {
		return nil, nil
	}
	return []string{targetID}, nil
}

func (l *Local) RemoveTargets(ctx context.Context, rule string, _ []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.rules[rule]
	if !ok {
		return ErrNotFound
	}
	next := *r
	next.input, next.hasTarget = nil, false
	if err := l.save(ctx, rule, &next); err != nil {
		return err
	}
	r.input, r.hasTarget = nil, false
	return nil
}

func (l *Local) DeleteRule(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.rules[name]
	if !ok {
		return ErrNotFound
	}
	if l.store != nil {
		if err := l.store.DeleteScheduleRule(ctx, name); err != nil {
			return err
		}
	}
	l.runner.Remove(r.entry)
	delete(l.rules, name)
	return nil
}

func (l *Local) Grant(context.Context, string, string) error { return nil }

func (l *Local) Revoke(context.Context, string) error { return nil }

// run invokes a rule's target if the current year is within the rule's range.
func (l *Local) run(name string) {
	l.mu.Lock()
	r, ok := l.rules[name]
	var input []byte
	var inYears bool
	if ok && r.hasTarget {
		input = slices.Clone(r.input)
		year := l.clock.Now().UTC().Year()
		inYears = (r.firstYear == 0 || year >= r.firstYear) && (r.lastYear == 0 || year <= r.lastYear)
	}
	l.mu.Unlock()

	if input == nil || !inYears {
		return
	}
	if err := l.fire(context.Background(), input); err != nil {
		l.logger.Error("scheduled rule invocation failed", "rule", name, "error", err)
	}
}

var rateUnits = map[string]time.Duration{
	"minute": time.Minute, "minutes": time.Minute,
	"hour": time.Hour, "hours": time.Hour,
	"day": 24 * time.Hour, "days": 24 * time.Hour,
}

// rateLead is how long after creation a rate rule first fires.
const rateLead = time.Minute

// rateSchedule fires rateLead after it is registered and then once per
// period, the way managed rate rules start counting at creation.
type rateSchedule struct {
	every   time.Duration
	started bool
}

func (s *rateSchedule) Next(t time.Time) time.Time {
	if !s.started {
		s.started = true
		return t.Add(rateLead)
	}
	return t.Add(s.every)
}

// parseRuleExpression turns a rate(...) or 6-field cron(...) expression into
// a schedule plus an inclusive year range (0 means unbounded).
func parseRuleExpression(expr string) (cron.Schedule, int, int, error) {
	switch {
	case strings.HasPrefix(expr, "rate(") && strings.HasSuffix(expr, ")"):
		f := strings.Fields(strings.TrimSuffix(strings.TrimPrefix(expr, "rate("), ")"))
		if len(f) != 2 {
			return nil, 0, 0, fmt.Errorf("invalid rate expression %q", expr)
		}
		n, err := strconv.Atoi(f[0])
		unit, ok := rateUnits[f[1]]
		if err != nil || n <= 0 || !ok {
			return nil, 0, 0, fmt.Errorf("invalid rate expression %q", expr)
		}
		return &rateSchedule{every: time.Duration(n) * unit}, 0, 0, nil

	case strings.HasPrefix(expr, "cron(") && strings.HasSuffix(expr, ")"):
		f := strings.Fields(strings.TrimSuffix(strings.TrimPrefix(expr, "cron("), ")"))
		if len(f) != 6 {
			return nil, 0, 0, fmt.Errorf("invalid cron expression %q", expr)
		}
		first, last, err := parseYears(f[5])
		if err != nil {
			return nil, 0, 0, fmt.Errorf("invalid year in %q: %w", expr, err)
		}
		dom, dow := f[2], f[4]
		if dom == "?" {
			dom = "*"
		}
		if dow == "?" {
			dow = "*"
		} else {
			dow = unshiftDayOfWeek(dow)
		}
		spec := strings.Join([]string{f[0], f[1], dom, f[3], dow}, " ")
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
		return sched, first, last, nil
	}
	return nil, 0, 0, fmt.Errorf("unsupported schedule expression %q", expr)
}

func parseYears(field string) (int, int, error) {
	if field == "*" {
		return 0, 0, nil
	}
	lo, hi, isRange := strings.Cut(field, "-")
	first, err := strconv.Atoi(lo)
	if err != nil {
		return 0, 0, err
	}
	if !isRange {
		return first, first, nil
	}
	last, err := strconv.Atoi(hi)
	if err != nil {
		return 0, 0, err
	}
	return first, last, nil
}

// unshiftDayOfWeek maps 1-based (Sunday 1) day-of-week numbers back to 0-based.
func unshiftDayOfWeek(dow string) string {
	items := strings.Split(dow, ",")
	for i, item := range items {
		base, step, hasStep := strings.Cut(item, "/")
		if lo, hi, isRange := strings.Cut(base, "-"); isRange {
			lo, hi = unshiftDay(lo), unshiftDay(hi)
			base = lo + "-" + hi
			// A range wrapping past Saturday, such as 6-1, splits in two.
			from, err1 := strconv.Atoi(lo)
			to, err2 := strconv.Atoi(hi)
			if err1 == nil && err2 == nil && to < from && !hasStep {
				base = lo + "-6,0-" + hi
			}
		} else {
			base = unshiftDay(base)
		}
		if hasStep {
			base += "/" + step
		}
		items[i] = base
	}
	return strings.Join(items, ",")
}

func unshiftDay(tok string) string {
	n, err := strconv.Atoi(tok)
	if err != nil {
		return tok
	}
	return strconv.Itoa(n - 1)
}
