package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/docsession/internal/ir"
	"github.com/roach88/docsession/internal/store"
	"github.com/roach88/docsession/internal/testutil"
)

type User struct {
	ID     string   `json:"-"`
	Name   string   `json:"name"`
	Age    int      `json:"age"`
	Emails []string `json:"emails,omitempty"`
}

type EmailCount struct {
	Email string `json:"email"`
	Count int    `json:"count"`
}

var userShape = NewJSONShape[User]("users", "", func(u *User) *string { return &u.ID })

var emailCountShape = NewJSONShape[EmailCount]("users", "", nil)

// flakyExecutor wraps a store and lets tests inject failures and stalls.
type flakyExecutor struct {
	inner Executor

	mu        sync.Mutex
	submitErr error
	fetchErr  error

	// stall, when set, makes Submit and Fetch signal entered and then
	// wait for release or context cancellation.
	stall   bool
	entered chan struct{}
	release chan struct{}
}

func newFlakyExecutor(inner Executor) *flakyExecutor {
	return &flakyExecutor{
		inner:   inner,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (f *flakyExecutor) failSubmit(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

func (f *flakyExecutor) wait(ctx context.Context) error {
	f.mu.Lock()
	stall := f.stall
	f.mu.Unlock()
	if !stall {
		return nil
	}
	f.entered <- struct{}{}
	select {
	case <-f.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *flakyExecutor) Submit(ctx context.Context, cmds []ir.Command) (ir.BatchResult, error) {
	if err := f.wait(ctx); err != nil {
		return ir.BatchResult{}, err
	}
	f.mu.Lock()
	err := f.submitErr
	f.mu.Unlock()
	if err != nil {
		return ir.BatchResult{}, err
	}
	return f.inner.Submit(ctx, cmds)
}

func (f *flakyExecutor) Fetch(ctx context.Context, id string) (ir.Document, error) {
	if err := f.wait(ctx); err != nil {
		return ir.Document{}, err
	}
	f.mu.Lock()
	err := f.fetchErr
	f.mu.Unlock()
	if err != nil {
		return ir.Document{}, err
	}
	return f.inner.Fetch(ctx, id)
}

func (f *flakyExecutor) ExecuteQuery(ctx context.Context, q ir.CompiledQuery) ([]ir.Document, error) {
	return f.inner.ExecuteQuery(ctx, q)
}

// newTestDocumentStore opens a temp-dir store and a DocumentStore over it.
func newTestDocumentStore(t *testing.T, opts ...Option) (*DocumentStore, *store.Store) {
	t.Helper()
	st := testutil.OpenStore(t)
	opts = append([]Option{WithSessionIDs(testutil.NewSequenceGenerator("session"))}, opts...)
	return NewDocumentStore(st, opts...), st
}

// seedDemoUsers commits John Doe (35) and Jane Doe (24) and returns them.
func seedDemoUsers(t *testing.T, ds *DocumentStore) (*User, *User) {
	t.Helper()
	s := ds.OpenSession()
	defer s.Close()

	users := For(s, userShape)
	john := &User{Name: "John Doe", Age: 35, Emails: []string{"john.doe@example.com", "abc@example.com"}}
	jane := &User{Name: "Jane Doe", Age: 24, Emails: []string{"abc@example.com", "jane.doe@example.com"}}
	require.NoError(t, users.Store(john))
	require.NoError(t, users.Store(jane))
	require.NoError(t, s.SaveChanges(context.Background()))
	return john, jane
}

func names(users []*User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Name
	}
	return out
}
