package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/circlemind-ai/smooth-sdk/internal/history"
)

func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	db, err := history.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db, func() {
		_ = db.Close()
	}
}
