package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"loadplane/internal/store"
)

// GetInfraConfig returns the stored infrastructure of a region.
func (s *Store) GetInfraConfig(ctx context.Context, region string) (*store.InfraConfig, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, "SELECT config FROM regional_infra WHERE region = $1", region).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get infra config for %s: %w", region, err)
	}

	var cfg store.InfraConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode infra config for %s: %w", region, err)
	}
	cfg.Region = region
	return &cfg, nil
}

// ListInfraConfigs returns up to limit configurations with region > after.
func (s *Store) ListInfraConfigs(ctx context.Context, after string, limit int) ([]store.InfraConfig, string, error) {
	if limit <= 0 {
		limit = 50
	}
	// One extra row tells us whether another page exists.
	rows, err := s.db.QueryContext(ctx, `
		SELECT region, config FROM regional_infra
		WHERE region > $1
		ORDER BY region
		LIMIT $2
	`, after, limit+1)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list infra configs: %w", err)
	}
	defer rows.Close()

	var out []store.InfraConfig
	for rows.Next() {
		var (
			region string
			raw    []byte
		)
		if err := rows.Scan(&region, &raw); err != nil {
			return nil, "", err
		}
		var cfg store.InfraConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, "", fmt.Errorf("decode infra config for %s: %w", region, err)
		}
		cfg.Region = region
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].Region
	}
	return out, next, nil
}

// PutInfraConfig upserts a region's infrastructure.
func (s *Store) PutInfraConfig(ctx context.Context, cfg *store.InfraConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO regional_infra (region, config) VALUES ($1, $2)
		ON CONFLICT (region) DO UPDATE SET config = EXCLUDED.config, updated_at = NOW()
	`, cfg.Region, raw)
	if err != nil {
		return fmt.Errorf("failed to put infra config for %s: %w", cfg.Region, err)
	}
	return nil
}
