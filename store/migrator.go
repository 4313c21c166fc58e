package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/chatloom/chatloom/internal/version"
)

// Migrate applies the current schema. Drivers run idempotent DDL, so calling
// this on every startup is safe.
func (s *Store) Migrate(ctx context.Context) error {
	start := time.Now()
	if err := s.driver.Migrate(ctx); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}

	slog.Info("database migrated",
		"driver", s.profile.Driver,
		"schema", version.GetSchemaVersion(s.profile.Version),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
