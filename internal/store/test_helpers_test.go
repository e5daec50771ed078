package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"slices"
	"testing"

	"github.com/roach88/docsession/internal/ir"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// putCmd builds a put command for a body given as Go values.
func putCmd(t *testing.T, id string, body map[string]any) ir.Command {
	t.Helper()
	v, err := ir.FromGo(body)
	if err != nil {
		t.Fatalf("FromGo(%v) failed: %v", body, err)
	}
	return ir.Command{Kind: ir.CommandPut, ID: id, Body: v.(ir.IRObject)}
}

// mustSubmit submits cmds and fails the test on error.
func mustSubmit(t *testing.T, s *Store, cmds ...ir.Command) ir.BatchResult {
	t.Helper()
	res, err := s.Submit(context.Background(), cmds)
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	return res
}

// seedUsers stores the two demo users: John Doe (35) and Jane Doe (24).
func seedUsers(t *testing.T, s *Store) ir.BatchResult {
	t.Helper()
	return mustSubmit(t, s,
		ir.Command{Kind: ir.CommandPut, Collection: "users", Body: ir.IRObject{
			"name":   ir.IRString("John Doe"),
			"age":    ir.IRInt(35),
			"emails": ir.NewIRArray(ir.IRString("john@example.com"), ir.IRString("shared@example.com")),
		}},
		ir.Command{Kind: ir.CommandPut, Collection: "users", Body: ir.IRObject{
			"name":   ir.IRString("Jane Doe"),
			"age":    ir.IRInt(24),
			"emails": ir.NewIRArray(ir.IRString("jane@example.com"), ir.IRString("shared@example.com")),
		}},
	)
}

// ids returns the ids of docs in order.
func ids(docs []ir.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func contains(slice []string, item string) bool {
	return slices.Contains(slice, item)
}
