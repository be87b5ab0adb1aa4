package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config describes the connection pool. DSN accepts postgres:// and
// postgresql:// URLs as well as key=value strings.
type Config struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// Connect creates a pgx connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(normalizeDSN(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if pcfg.MaxConnIdleTime == 0 {
		pcfg.MaxConnIdleTime = 5 * time.Minute
	}
	if pcfg.HealthCheckPeriod == 0 {
		pcfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	chat_user_id TEXT PRIMARY KEY,
	presence_id  TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS status_records (
	chat_user_id TEXT PRIMARY KEY,
	status_text  TEXT NOT NULL DEFAULT '',
	emoji        TEXT NOT NULL DEFAULT '',
	set_at       TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ,
	generation   BIGINT NOT NULL,
	active       BOOLEAN NOT NULL,
	CHECK (expires_at IS NULL OR expires_at > set_at)
);

CREATE INDEX IF NOT EXISTS status_records_pending
	ON status_records (expires_at)
	WHERE active AND expires_at IS NOT NULL;
`

// Migrate creates the tables if they don't exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	s = strings.Replace(s, "postgresql+pgx://", "postgresql://", 1)
	s = strings.Replace(s, "postgres+pgx://", "postgres://", 1)
	return s
}
