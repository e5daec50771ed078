package store

import (
	"context"
	"slices"
	"testing"

	"github.com/roach88/docsession/internal/ir"
)

func TestFetch_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Fetch(context.Background(), "users/404")
	if !ir.IsNotFound(err) {
		t.Errorf("Fetch() error = %v, want NOT_FOUND", err)
	}
}

func TestFetch_ReturnsRevision(t *testing.T) {
	s := createTestStore(t)
	res := seedUsers(t, s)

	doc, err := s.Fetch(context.Background(), res.Results[1].ID)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if doc.Revision != res.Results[1].Revision {
		t.Errorf("Revision = %q, want %q", doc.Revision, res.Results[1].Revision)
	}
	if doc.Projection {
		t.Error("Projection = true for fetched document")
	}
}

func TestExecuteQuery_DemoQueries(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedUsers(t, s)

	tests := []struct {
		name   string
		query  ir.CompiledQuery
		wantID []string
	}{
		{
			name: "age and name suffix",
			query: ir.CompiledQuery{
				Text:       "from users where age > $p0 and endsWith(name, $p1)",
				Parameters: map[string]any{"p0": 20, "p1": "Doe"},
			},
			wantID: []string{"users/1-A", "users/2-A"},
		},
		{
			name: "name prefix",
			query: ir.CompiledQuery{
				Text:       "from users where startsWith(name, $p0)",
				Parameters: map[string]any{"p0": "Jane"},
			},
			wantID: []string{"users/2-A"},
		},
		{
			name: "array element match",
			query: ir.CompiledQuery{
				Text: "from users where emails = 'john@example.com'",
			},
			wantID: []string{"users/1-A"},
		},
		{
			name: "in list",
			query: ir.CompiledQuery{
				Text:       "from users where age in ($ages)",
				Parameters: map[string]any{"ages": []any{24, 99}},
			},
			wantID: []string{"users/2-A"},
		},
		{
			name: "search prefix term",
			query: ir.CompiledQuery{
				Text: "from users where search(name, 'jan*')",
			},
			wantID: []string{"users/2-A"},
		},
		{
			name: "search any term",
			query: ir.CompiledQuery{
				Text: "from users where search(name, 'nobody DOE')",
			},
			wantID: []string{"users/1-A", "users/2-A"},
		},
		{
			name: "appended ordering",
			query: ir.CompiledQuery{
				Text:     "from users",
				Ordering: []ir.OrderKey{{Field: "age"}},
			},
			wantID: []string{"users/2-A", "users/1-A"},
		},
		{
			name: "descending with limit",
			query: ir.CompiledQuery{
				Text: "from users order by age desc limit 1",
			},
			wantID: []string{"users/1-A"},
		},
		{
			name: "offset",
			query: ir.CompiledQuery{
				Text: "from users order by name offset 1",
			},
			wantID: []string{"users/1-A"},
		},
		{
			name: "no match",
			query: ir.CompiledQuery{
				Text: "from users where age < 0",
			},
			wantID: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.ExecuteQuery(ctx, tt.query)
			if err != nil {
				t.Fatalf("ExecuteQuery() failed: %v", err)
			}
			if got := ids(docs); !slices.Equal(got, tt.wantID) {
				t.Errorf("ids = %v, want %v", got, tt.wantID)
			}
		})
	}
}

func TestExecuteQuery_GroupedByArray(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)

	docs, err := s.ExecuteQuery(context.Background(), ir.CompiledQuery{
		Text: "from users group by emails[] order by count() desc select key() as email, count() as count",
	})
	if err != nil {
		t.Fatalf("ExecuteQuery() failed: %v", err)
	}

	want := []ir.IRObject{
		{"email": ir.IRString("shared@example.com"), "count": ir.IRInt(2)},
		{"email": ir.IRString("jane@example.com"), "count": ir.IRInt(1)},
		{"email": ir.IRString("john@example.com"), "count": ir.IRInt(1)},
	}
	if len(docs) != len(want) {
		t.Fatalf("len(docs) = %d, want %d", len(docs), len(want))
	}
	for i, w := range want {
		if !docs[i].Projection {
			t.Errorf("docs[%d].Projection = false", i)
		}
		got, _ := ir.MarshalCanonical(docs[i].Body)
		exp, _ := ir.MarshalCanonical(w)
		if string(got) != string(exp) {
			t.Errorf("docs[%d] = %s, want %s", i, got, exp)
		}
	}
}

func TestExecuteQuery_SelectProjection(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)

	docs, err := s.ExecuteQuery(context.Background(), ir.CompiledQuery{
		Text: "from users where age < 30 select id(), name as who",
	})
	if err != nil {
		t.Fatalf("ExecuteQuery() failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d, want 1", len(docs))
	}
	if !docs[0].Projection {
		t.Error("Projection = false for select query")
	}
	if docs[0].Body["who"] != ir.IRString("Jane Doe") || docs[0].Body["id"] != ir.IRString("users/2-A") {
		t.Errorf("Body = %v", docs[0].Body)
	}
}

func TestExecuteQuery_MissingParameter(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ExecuteQuery(context.Background(), ir.CompiledQuery{
		Text:       "from users where age > $min and name = $name",
		Parameters: map[string]any{"min": 1},
	})
	if !ir.IsMissingParameter(err) {
		t.Errorf("ExecuteQuery() error = %v, want MISSING_PARAMETER", err)
	}
}

func TestExecuteQuery_MalformedText(t *testing.T) {
	s := createTestStore(t)

	for _, text := range []string{
		"users where age > 1",
		"from users where (age > 1",
		"from users order by count()",
	} {
		_, err := s.ExecuteQuery(context.Background(), ir.CompiledQuery{Text: text})
		if !ir.IsMalformedQuery(err) {
			t.Errorf("ExecuteQuery(%q) error = %v, want MALFORMED_QUERY", text, err)
		}
	}
}

func TestExecuteQuery_StoreFaultIsQueryFailed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	if _, err := s.DB().ExecContext(ctx, "ALTER TABLE documents RENAME TO documents_moved"); err != nil {
		t.Fatalf("rename table: %v", err)
	}

	_, err := s.ExecuteQuery(ctx, ir.CompiledQuery{Text: "from users"})
	if !ir.IsQueryFailed(err) {
		t.Fatalf("ExecuteQuery() error = %v, want QUERY_FAILED", err)
	}
	if ir.IsTransportFailure(err) {
		t.Errorf("ExecuteQuery() error = %v, must not be TRANSPORT_FAILURE", err)
	}
}

func TestExecuteQuery_CancelledIsNotQueryFailed(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ExecuteQuery(ctx, ir.CompiledQuery{Text: "from users"})
	if err == nil {
		t.Fatal("ExecuteQuery() with cancelled context succeeded")
	}
	if ir.IsQueryFailed(err) {
		t.Errorf("ExecuteQuery() error = %v, want a plain cancellation error", err)
	}
}

func TestExecuteQuery_PlanCache(t *testing.T) {
	s := createTestStore(t, WithPlanCacheSize(1))
	ctx := context.Background()

	q := ir.CompiledQuery{Text: "from users where age > $p0", Parameters: map[string]any{"p0": 1}}
	for i := 0; i < 3; i++ {
		if _, err := s.ExecuteQuery(ctx, q); err != nil {
			t.Fatalf("ExecuteQuery() failed: %v", err)
		}
	}
	if n := s.cachedPlans(); n != 1 {
		t.Errorf("cachedPlans() = %d, want 1", n)
	}

	if _, err := s.ExecuteQuery(ctx, ir.CompiledQuery{Text: "from orders"}); err != nil {
		t.Fatalf("ExecuteQuery() failed: %v", err)
	}
	if n := s.cachedPlans(); n != 1 {
		t.Errorf("cachedPlans() = %d with capacity 1, want 1", n)
	}
}

func TestExecuteQuery_CollectionIsolation(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)
	mustSubmit(t, s, putCmd(t, "orders/1", map[string]any{"age": 50}))

	docs, err := s.ExecuteQuery(context.Background(), ir.CompiledQuery{Text: "from orders where age > 20"})
	if err != nil {
		t.Fatalf("ExecuteQuery() failed: %v", err)
	}
	if got := ids(docs); !slices.Equal(got, []string{"orders/1"}) {
		t.Errorf("ids = %v, want [orders/1]", got)
	}
}
