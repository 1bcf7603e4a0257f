//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/weathervane/weather-api-service/internal/store"
)

// IntegrationStore connects to the database named by TEST_DATABASE_URL and
// registers cleanup that truncates the tables the tests write. Skips the
// test when the variable is unset.
func IntegrationStore(t *testing.T) *store.Store {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := store.New(ctx, dsn, 5, 5*time.Second)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() {
		TruncateAll(t, st)
		st.Close()
	})
	TruncateAll(t, st)
	return st
}

// TruncateAll empties every table so tests start from a known state.
func TruncateAll(t *testing.T, st *store.Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, table := range []string{"weather_data", "weather_location_cache", "key_item_cache"} {
		if err := st.Truncate(ctx, table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}
