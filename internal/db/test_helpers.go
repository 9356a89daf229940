package db

import (
	"path/filepath"
	"testing"
)

// NewTestDB opens a fresh database in a per-test temporary directory and
// closes it when the test finishes.
func NewTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "plantid_test.db")
	database, err := NewDB(path)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := database.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return database
}
