// Package dbtest opens throwaway stores for tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/example/lexisync/internal/database"
)

// Open returns a fresh in-memory sqlite store with the schema applied.
// Each call gets its own database, so tests may run in parallel.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()
	db, err := database.Connect("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
