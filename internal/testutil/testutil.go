package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/flitsinc/agentlab/internal/state"
)

// OpenTestDB opens a journal database in a per-test temp dir and closes it
// when the test finishes.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func OpenTestJournal(t *testing.T) *state.Journal {
	t.Helper()
	return state.NewJournal(OpenTestDB(t))
}
