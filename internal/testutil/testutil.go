package testutil

import (
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/driftlabs/taskcore/internal/store"
)

// OpenTestDB opens a migrated SQLite database in a per-test temp dir. The
// database closes when the test ends; the returned func closes it earlier
// and is safe to call more than once.
func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskcore.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	closeOnce := sync.OnceFunc(func() {
		_ = db.Close()
	})
	t.Cleanup(closeOnce)
	return db, closeOnce
}
