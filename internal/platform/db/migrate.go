package db

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrate applies all pending migrations from the embedded filesystem.
// The pgx/v5 migrate driver registers under the pgx5 scheme, so standard
// postgres:// DSNs are rewritten before the lookup.
func Migrate(fsys embed.FS, dir, dsn string) error {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("platform/db: migration source: %w", err)
	}

	url := dsn
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(url, scheme) {
			url = "pgx5://" + strings.TrimPrefix(url, scheme)
			break
		}
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return fmt.Errorf("platform/db: migrate init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("platform/db: migrate up: %w", err)
	}

	return nil
}
