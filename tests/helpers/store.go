package helpers

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/xiaot623/agentmatch/internal/config"
	"github.com/xiaot623/agentmatch/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// NewTestSQLiteFileStore opens a database file in a temp dir with the query
// parameters of the default DATABASE_URL, so tests run against a pooled store
// configured the way the server runs it.
func NewTestSQLiteFileStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "agentmatch.db")
	if _, query, ok := strings.Cut(config.Default().DatabaseURL, "?"); ok {
		dsn += "?" + query
	}

	s, err := repository.NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func NewTestBoltStore(t *testing.T) *repository.BoltStore {
	t.Helper()

	s, err := repository.NewBoltStore(filepath.Join(t.TempDir(), "matchmaker.bolt"))
	if err != nil {
		t.Fatalf("failed to create bolt store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
