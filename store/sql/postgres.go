package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	"github.com/onesub/onesub-go/core"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// PostgresConfig satisfies the persistence layer's config contract for a
// postgres-backed delivery ledger.
type PostgresConfig struct {
	DSN         string
	Debug       bool
	PingTimeout time.Duration
}

func (c PostgresConfig) GetDebug() bool {
	return c.Debug
}

func (c PostgresConfig) GetDriver() string {
	return "postgres"
}

func (c PostgresConfig) GetServer() string {
	return c.DSN
}

func (c PostgresConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c PostgresConfig) GetOtelIdentifier() string {
	return "onesub-go"
}

// OpenPostgres opens a postgres persistence client and applies the
// delivery-ledger migrations. The migrationSource usually comes from
// migrations.Filesystems; pass the postgres filesystem.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, migrationSource fs.FS) (*persistence.Client, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, core.NewValidationError("postgres dsn is required")
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}

	client, err := persistence.New(cfg, sqlDB, pgdialect.New())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}

	if migrationSource != nil {
		client.RegisterSQLMigrations(migrationSource)
		if err := client.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return client, nil
}
