package test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hrygo/chorus/internal/profile"
	"github.com/hrygo/chorus/store"
	"github.com/hrygo/chorus/store/db"
)

// NewTestingStore opens a migrated store for tests.
// SQLite on a temp file is used unless POSTGRES_TEST_DSN is set.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()

	p := getTestingProfile(t)
	driver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	s := store.New(driver, p)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func getTestingProfile(t *testing.T) *profile.Profile {
	if dsn := os.Getenv("POSTGRES_TEST_DSN"); dsn != "" {
		return &profile.Profile{Mode: "dev", Driver: "postgres", DSN: dsn}
	}
	dir := t.TempDir()
	return &profile.Profile{
		Mode:   "dev",
		Data:   dir,
		Driver: "sqlite",
		DSN:    filepath.Join(dir, "chorus_test.db"),
	}
}
