package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/okian/rumble/internal/adapters/repository"
	"github.com/okian/rumble/internal/adapters/repository/postgres"
	"github.com/okian/rumble/internal/adapters/repository/storetest"
)

// Set RUMBLE_TEST_POSTGRES_DSN to run against a scratch database.
const dsnEnv = "RUMBLE_TEST_POSTGRES_DSN"

func TestStoreSuite(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	storetest.Run(t, func(t *testing.T) repository.Store {
		ctx := context.Background()
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		for _, party := range []string{"p", "a", "b"} {
			if err := store.Truncate(ctx, party); err != nil {
				t.Fatalf("truncate: %v", err)
			}
		}
		return store
	})
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := postgres.Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
