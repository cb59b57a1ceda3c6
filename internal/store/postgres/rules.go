package postgres

import (
	"context"
	"fmt"

	"loadplane/internal/store"
)

// ListScheduleRules returns every persisted rule ordered by name.
func (s *Store) ListScheduleRules(ctx context.Context) ([]store.ScheduleRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, expression, input, has_target FROM schedule_rules
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule rules: %w", err)
	}
	defer rows.Close()

	var out []store.ScheduleRule
	for rows.Next() {
		var r store.ScheduleRule
		if err := rows.Scan(&r.Name, &r.Expression, &r.Input, &r.HasTarget); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PutScheduleRule upserts a rule.
func (s *Store) PutScheduleRule(ctx context.Context, r *store.ScheduleRule) error {
	var input []byte
	if r.HasTarget {
		input = r.Input
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_rules (name, expression, input, has_target) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			expression = EXCLUDED.expression,
			input = EXCLUDED.input,
			has_target = EXCLUDED.has_target,
			updated_at = NOW()
	`, r.Name, r.Expression, input, r.HasTarget)
	if err != nil {
		return fmt.Errorf("failed to put schedule rule %s: %w", r.Name, err)
	}
	return nil
}

func (s *Store) DeleteScheduleRule(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM schedule_rules WHERE name = $1", name); err != nil {
		return fmt.Errorf("failed to delete schedule rule %s: %w", name, err)
	}
	return nil
}
