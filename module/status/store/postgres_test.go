package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"statusbridge/module/status/store"
	"statusbridge/module/status/store/storetest"
	"statusbridge/service/storage/postgres"
)

// Runs only against a live database:
//
//	STATUSBRIDGE_TEST_POSTGRES_DSN=postgres://localhost/statusbridge_test?sslmode=disable
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("STATUSBRIDGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STATUSBRIDGE_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		pool, err := postgres.Connect(ctx, postgres.Config{DSN: dsn})
		require.NoError(t, err)
		require.NoError(t, postgres.Migrate(ctx, pool))
		_, err = pool.Exec(ctx, `TRUNCATE identities, status_records`)
		require.NoError(t, err)
		s := store.NewPostgres(pool)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
