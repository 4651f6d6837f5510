package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/chatlens/internal/settings"
)

var _ settings.Store = (*Store)(nil)

// LoadAIConfig returns the saved AI configuration, or the zero value when
// none has been saved.
func (s *Store) LoadAIConfig(ctx context.Context) (settings.AIConfig, error) {
	var cfg settings.AIConfig
	err := s.pool.QueryRow(ctx, `SELECT value FROM app_settings WHERE key = $1`, settings.Key).Scan(&cfg)
	if errors.Is(err, pgx.ErrNoRows) {
		return settings.AIConfig{}, nil
	}
	if err != nil {
		return settings.AIConfig{}, fmt.Errorf("load %s: %w", settings.Key, err)
	}
	return cfg, nil
}

func (s *Store) SaveAIConfig(ctx context.Context, cfg settings.AIConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		settings.Key, cfg,
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", settings.Key, err)
	}
	return nil
}
