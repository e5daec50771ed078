package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsession/internal/ir"
	"github.com/roach88/docsession/internal/testutil"
)

func TestSession_StoreDoesNotSendRequests(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	s := ds.OpenSession()
	users := For(s, userShape)

	require.NoError(t, users.Store(&User{Name: "John Doe", Age: 35}))
	require.NoError(t, users.Store(&User{Name: "Jane Doe", Age: 24}))

	assert.Equal(t, 0, s.Advanced().NumberOfRequests())
	changes, err := s.Advanced().WhatChanged()
	require.NoError(t, err)
	assert.Equal(t, []ChangeKind{Created, Created}, kinds(changes))
}

func TestSession_SaveChangesAssignsServerIdentities(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	john, jane := seedDemoUsers(t, ds)

	assert.Equal(t, "users/1-A", john.ID)
	assert.Equal(t, "users/2-A", jane.ID)
}

func TestSession_RoundTrip(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	john, _ := seedDemoUsers(t, ds)

	s := ds.OpenSession()
	loaded, ok, err := For(s, userShape).Load(context.Background(), john.ID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, *john, *loaded)
	assert.NotSame(t, john, loaded, "a new session gets its own entity")
}

func TestSession_IdentityMap(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	seedDemoUsers(t, ds)
	ctx := context.Background()

	s := ds.OpenSession()
	users := For(s, userShape)
	first, ok, err := users.Load(ctx, "users/1-A")
	require.NoError(t, err)
	require.True(t, ok)
	second, ok, err := users.Load(ctx, "users/1-A")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Same(t, first, second)
	assert.Equal(t, 1, s.Advanced().NumberOfRequests())

	h, ok := s.Advanced().HandleOf(first)
	require.True(t, ok)
	assert.Equal(t, "users/1-A", h.ID())
	assert.Equal(t, "A:1", h.Revision())
	assert.True(t, h.Persisted())
}

func TestSession_SeparateSessionsAreIsolated(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	seedDemoUsers(t, ds)
	ctx := context.Background()

	a, _, err := For(ds.OpenSession(), userShape).Load(ctx, "users/1-A")
	require.NoError(t, err)
	b, _, err := For(ds.OpenSession(), userShape).Load(ctx, "users/1-A")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
}

func TestSession_LoadMissing(t *testing.T) {
	ds, _ := newTestDocumentStore(t)

	u, ok, err := For(ds.OpenSession(), userShape).Load(context.Background(), "users/404")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, u)
}

func TestSession_DemoQueries(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	seedDemoUsers(t, ds)
	ctx := context.Background()
	users := For(ds.OpenSession(), userShape)

	both, err := users.Query().
		WhereGreaterThan("age", 20).
		AndAlso().
		WhereEndsWith("name", "Doe").
		ToList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"John Doe", "Jane Doe"}, names(both))

	janes, err := users.Query().WhereStartsWith("name", "Jane").ToList(ctx)
	require.NoError(t, err)
	require.Len(t, janes, 1)
	assert.Equal(t, 24, janes[0].Age)
}

func TestSession_SubclauseQuery(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	seedDemoUsers(t, ds)

	got, err := For(ds.OpenSession(), userShape).Query().
		WhereIn("emails", "john.doe@example.com", "jane.doe@example.com").
		OrElse().
		OpenSubclause().
		WhereGreaterThan("age", 25).
		AndAlso().
		WhereEndsWith("name", "Doe").
		CloseSubclause().
		OrderByDescending("name").
		ToList(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"John Doe", "Jane Doe"}, names(got))
}

func TestSession_QueryResultsAreAttached(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	seedDemoUsers(t, ds)
	ctx := context.Background()

	s := ds.OpenSession()
	users := For(s, userShape)
	jane, ok, err := users.Query().WhereStartsWith("name", "Jane").First(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	loaded, _, err := users.Load(ctx, jane.ID)
	require.NoError(t, err)
	assert.Same(t, jane, loaded, "query results share the identity map")
	assert.Equal(t, 1, s.Advanced().NumberOfRequests())

	jane.Age = 25
	require.NoError(t, s.SaveChanges(ctx))

	fresh, _, err := For(ds.OpenSession(), userShape).Load(ctx, jane.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, fresh.Age)
}

func TestSession_QueryKeepsTrackedState(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	seedDemoUsers(t, ds)
	ctx := context.Background()

	s := ds.OpenSession()
	users := For(s, userShape)
	john, _, err := users.Load(ctx, "users/1-A")
	require.NoError(t, err)
	john.Age = 99

	all, err := users.Query().OrderBy("name").ToList(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Same(t, john, all[1])
	assert.Equal(t, 99, all[1].Age, "queries do not overwrite tracked entities")
}

func TestSession_RawQueries(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	seedDemoUsers(t, ds)
	ctx := context.Background()
	s := ds.OpenSession()

	found, err := For(s, userShape).
		RawQuery("from users where search(name, $name_to_search)").
		AddParameter("name_to_search", "john").
		ToList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"John Doe"}, names(found))

	counts, err := For(s, emailCountShape).
		RawQuery("from users group by emails[] order by count() desc select key() as email, count() as count").
		ToList(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 3)
	assert.Equal(t, EmailCount{Email: "abc@example.com", Count: 2}, *counts[0])

	changed, err := s.Advanced().HasChanges()
	require.NoError(t, err)
	assert.False(t, changed, "projections are not tracked")
}

func TestSession_RawQueryMissingParameter(t *testing.T) {
	ds, _ := newTestDocumentStore(t)

	_, err := For(ds.OpenSession(), userShape).
		RawQuery("from users where search(name, $name_to_search)").
		ToList(context.Background())
	assert.True(t, ir.IsMissingParameter(err), "got %v", err)
}

func TestSession_MalformedQuerySendsNothing(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	s := ds.OpenSession()

	_, err := For(s, userShape).Query().WhereEquals("name", "x").CloseSubclause().ToList(context.Background())
	assert.True(t, ir.IsMalformedQuery(err))
	assert.Equal(t, 0, s.Advanced().NumberOfRequests())
}

func TestSession_StoreQueryFaultIsNotTransport(t *testing.T) {
	ds, st := newTestDocumentStore(t)
	seedDemoUsers(t, ds)
	ctx := context.Background()
	_, err := st.DB().ExecContext(ctx, "ALTER TABLE documents RENAME TO documents_moved")
	require.NoError(t, err)

	_, err = For(ds.OpenSession(), userShape).Query().WhereStartsWith("name", "Jane").ToList(ctx)
	require.Error(t, err)
	assert.True(t, ir.IsQueryFailed(err), "got %v", err)
	assert.False(t, ir.IsTransportFailure(err))
}

func TestSession_SaveChangesIsIdempotent(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	ctx := context.Background()
	s := ds.OpenSession()
	require.NoError(t, For(s, userShape).Store(&User{Name: "John"}))

	require.NoError(t, s.SaveChanges(ctx))
	assert.Equal(t, StateCommitted, s.State())
	require.NoError(t, s.SaveChanges(ctx))

	assert.Equal(t, 1, s.Advanced().NumberOfRequests())
}

func TestSession_ModifyAfterCommit(t *testing.T) {
	ds, st := newTestDocumentStore(t)
	ctx := context.Background()
	s := ds.OpenSession()
	u := &User{Name: "John", Age: 1}
	require.NoError(t, For(s, userShape).Store(u))
	require.NoError(t, s.SaveChanges(ctx))

	u.Age = 2
	changes, err := s.Advanced().WhatChanged()
	require.NoError(t, err)
	assert.Equal(t, []ChangeKind{Modified}, kinds(changes))
	require.NoError(t, s.SaveChanges(ctx))

	doc, err := st.Fetch(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(2), doc.Body["age"])
	h, _ := s.Advanced().HandleOf(u)
	assert.Equal(t, doc.Revision, h.Revision())
}

func TestSession_CreatedThenDeletedSendsNothing(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	s := ds.OpenSession()
	users := For(s, userShape)
	u := &User{Name: "temp"}
	require.NoError(t, users.Store(u))
	require.NoError(t, users.Delete(u))

	changes, err := s.Advanced().WhatChanged()
	require.NoError(t, err)
	assert.Empty(t, changes)

	require.NoError(t, s.SaveChanges(context.Background()))
	assert.Equal(t, 0, s.Advanced().NumberOfRequests())
	_, tracked := s.Advanced().HandleOf(u)
	assert.False(t, tracked)
}

func TestSession_DeletePersisted(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	seedDemoUsers(t, ds)
	ctx := context.Background()

	s := ds.OpenSession()
	users := For(s, userShape)
	john, _, err := users.Load(ctx, "users/1-A")
	require.NoError(t, err)
	require.NoError(t, users.Delete(john))

	_, ok, err := users.Load(ctx, "users/1-A")
	require.NoError(t, err)
	assert.False(t, ok, "deleted in this session")

	require.NoError(t, s.SaveChanges(ctx))
	assert.False(t, s.Advanced().IsLoaded("users/1-A"))

	_, ok, err = For(ds.OpenSession(), userShape).Load(ctx, "users/1-A")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_DeleteByID(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	seedDemoUsers(t, ds)
	ctx := context.Background()

	s := ds.OpenSession()
	require.NoError(t, s.DeleteByID("users/2-A"))
	require.NoError(t, s.SaveChanges(ctx))
	assert.Equal(t, 1, s.Advanced().NumberOfRequests())

	_, ok, err := For(ds.OpenSession(), userShape).Load(ctx, "users/2-A")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_DeleteUntracked(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	assert.Error(t, ds.OpenSession().Delete(&User{}))
}

func TestSession_StoreAfterDeleteFails(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	seedDemoUsers(t, ds)

	s := ds.OpenSession()
	users := For(s, userShape)
	john, _, err := users.Load(context.Background(), "users/1-A")
	require.NoError(t, err)
	require.NoError(t, users.Delete(john))

	assert.True(t, ir.IsConflictingIdentity(users.Store(john)))
}

func TestSession_ConflictingIdentity(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	seedDemoUsers(t, ds)

	s := ds.OpenSession()
	users := For(s, userShape)
	_, _, err := users.Load(context.Background(), "users/1-A")
	require.NoError(t, err)

	err = users.Store(&User{ID: "users/1-A", Name: "impostor"})
	assert.True(t, ir.IsConflictingIdentity(err), "got %v", err)
}

func TestSession_StoreTwiceIsNoop(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	s := ds.OpenSession()
	users := For(s, userShape)
	u := &User{Name: "John"}

	require.NoError(t, users.Store(u))
	require.NoError(t, users.Store(u))

	changes, err := s.Advanced().WhatChanged()
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestSession_UUIDConvention(t *testing.T) {
	conventions := DefaultConventions()
	conventions.Identity = UUIDConvention{Generator: testutil.NewSequenceGenerator("u")}
	ds, _ := newTestDocumentStore(t, WithConventions(conventions))
	ctx := context.Background()

	s := ds.OpenSession()
	u := &User{Name: "John"}
	require.NoError(t, For(s, userShape).Store(u))
	assert.Equal(t, "users/u-1", u.ID, "assigned at store time")

	require.NoError(t, s.SaveChanges(ctx))
	assert.Equal(t, "users/u-1", u.ID)

	loaded, ok, err := For(ds.OpenSession(), userShape).Load(ctx, "users/u-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "John", loaded.Name)
}

func TestSession_FailedSaveLeavesStateUnchanged(t *testing.T) {
	ds0, st := newTestDocumentStore(t)
	seedDemoUsers(t, ds0)
	flaky := newFlakyExecutor(st)
	ds := NewDocumentStore(flaky)
	ctx := context.Background()

	s := ds.OpenSession()
	users := For(s, userShape)
	john, _, err := users.Load(ctx, "users/1-A")
	require.NoError(t, err)
	john.Age = 36
	fresh := &User{Name: "Jack Foobar", Age: 28}
	require.NoError(t, users.Store(fresh))

	before, err := s.Advanced().WhatChanged()
	require.NoError(t, err)

	flaky.failSubmit(errors.New("connection reset"))
	err = s.SaveChanges(ctx)
	require.Error(t, err)
	assert.True(t, ir.IsTransportFailure(err))

	after, err := s.Advanced().WhatChanged()
	require.NoError(t, err)
	assert.Equal(t, kinds(before), kinds(after))
	assert.Empty(t, fresh.ID)
	h, _ := s.Advanced().HandleOf(john)
	assert.Equal(t, "A:1", h.Revision())

	flaky.failSubmit(nil)
	require.NoError(t, s.SaveChanges(ctx))
	assert.Equal(t, "users/3-A", fresh.ID)
	assert.NotEqual(t, "A:1", h.Revision())
}

func TestSession_ConcurrencyConflict(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	seedDemoUsers(t, ds)
	ctx := context.Background()

	a := ds.OpenSession()
	johnA, _, err := For(a, userShape).Load(ctx, "users/1-A")
	require.NoError(t, err)

	b := ds.OpenSession()
	johnB, _, err := For(b, userShape).Load(ctx, "users/1-A")
	require.NoError(t, err)
	johnB.Age = 40
	require.NoError(t, b.SaveChanges(ctx))

	johnA.Age = 50
	err = a.SaveChanges(ctx)
	require.Error(t, err)
	assert.True(t, ir.IsConcurrencyConflict(err), "got %v", err)

	changes, err := a.Advanced().WhatChanged()
	require.NoError(t, err)
	assert.Equal(t, []ChangeKind{Modified}, kinds(changes), "local state kept for retry")
}

func TestSession_LastWriteWinsWithoutOptimisticConcurrency(t *testing.T) {
	conventions := DefaultConventions()
	conventions.OptimisticConcurrency = false
	ds, _ := newTestDocumentStore(t, WithConventions(conventions))
	seedDemoUsers(t, ds)
	ctx := context.Background()

	a := ds.OpenSession()
	johnA, _, err := For(a, userShape).Load(ctx, "users/1-A")
	require.NoError(t, err)

	b := ds.OpenSession()
	johnB, _, err := For(b, userShape).Load(ctx, "users/1-A")
	require.NoError(t, err)
	johnB.Age = 40
	require.NoError(t, b.SaveChanges(ctx))

	johnA.Age = 50
	assert.NoError(t, a.SaveChanges(ctx))
}

func TestSession_CancelledSave(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	s := ds.OpenSession()
	u := &User{Name: "John"}
	require.NoError(t, For(s, userShape).Store(u))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.SaveChanges(ctx)
	assert.True(t, ir.IsTransportFailure(err), "got %v", err)
	assert.Empty(t, u.ID)

	require.NoError(t, s.SaveChanges(context.Background()))
	assert.Equal(t, "users/1-A", u.ID)
}

func TestSession_RequestTimeout(t *testing.T) {
	_, st := newTestDocumentStore(t)
	flaky := newFlakyExecutor(st)
	flaky.stall = true
	conventions := DefaultConventions()
	conventions.RequestTimeout = 20 * time.Millisecond
	ds := NewDocumentStore(flaky, WithConventions(conventions))

	_, _, err := For(ds.OpenSession(), userShape).Load(context.Background(), "users/1-A")
	require.Error(t, err)
	assert.True(t, ir.IsTransportFailure(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSession_SingleFlight(t *testing.T) {
	_, st := newTestDocumentStore(t)
	flaky := newFlakyExecutor(st)
	ds := NewDocumentStore(flaky)
	s := ds.OpenSession()
	users := For(s, userShape)
	require.NoError(t, users.Store(&User{Name: "John"}))

	flaky.stall = true
	done := make(chan error, 1)
	go func() { done <- s.SaveChanges(context.Background()) }()
	<-flaky.entered

	err := users.Store(&User{Name: "Jane"})
	assert.True(t, ir.HasCode(err, ir.ErrCodeSessionBusy), "got %v", err)
	assert.True(t, ir.HasCode(s.Close(), ir.ErrCodeSessionBusy))

	close(flaky.release)
	require.NoError(t, <-done)
	assert.NoError(t, users.Store(&User{Name: "Jane"}))
}

func TestSession_RequestLimit(t *testing.T) {
	conventions := DefaultConventions()
	conventions.MaxRequestsPerSession = 2
	ds, _ := newTestDocumentStore(t, WithConventions(conventions))
	seedDemoUsers(t, ds)
	ctx := context.Background()

	s := ds.OpenSession()
	users := For(s, userShape)
	_, _, err := users.Load(ctx, "users/1-A")
	require.NoError(t, err)
	_, _, err = users.Load(ctx, "users/1-A")
	require.NoError(t, err, "identity map hits are free")
	_, _, err = users.Load(ctx, "users/2-A")
	require.NoError(t, err)

	_, _, err = users.Load(ctx, "users/3-A")
	assert.True(t, ir.HasCode(err, ir.ErrCodeRequestLimit), "got %v", err)
	assert.Equal(t, 2, s.Advanced().NumberOfRequests())
}

func TestSession_Close(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	s := ds.OpenSession()
	users := For(s, userShape)
	u := &User{Name: "John"}
	require.NoError(t, users.Store(u))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "closing twice is a no-op")
	assert.Equal(t, StateClosed, s.State())

	closed := func(err error) bool { return ir.HasCode(err, ir.ErrCodeSessionClosed) }
	assert.True(t, closed(users.Store(&User{})))
	assert.True(t, closed(s.SaveChanges(context.Background())))
	_, _, err := users.Load(context.Background(), "users/1-A")
	assert.True(t, closed(err))
	_, err = users.Query().ToList(context.Background())
	assert.True(t, closed(err))
	_, tracked := s.Advanced().HandleOf(u)
	assert.False(t, tracked)
}

func TestSession_Evict(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	seedDemoUsers(t, ds)
	ctx := context.Background()

	s := ds.OpenSession()
	users := For(s, userShape)
	john, _, err := users.Load(ctx, "users/1-A")
	require.NoError(t, err)
	john.Age = 1

	s.Advanced().Evict(john)

	changed, err := s.Advanced().HasChanges()
	require.NoError(t, err)
	assert.False(t, changed)
	again, _, err := users.Load(ctx, "users/1-A")
	require.NoError(t, err)
	assert.NotSame(t, john, again)
	assert.Equal(t, 35, again.Age)
}

func TestSession_TypeMismatchOnLoad(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	seedDemoUsers(t, ds)
	ctx := context.Background()

	s := ds.OpenSession()
	_, _, err := For(s, userShape).Load(ctx, "users/1-A")
	require.NoError(t, err)

	_, _, err = For(s, DynamicShape{Name: "users"}).Load(ctx, "users/1-A")
	assert.True(t, ir.IsConflictingIdentity(err))
}

func TestSession_DynamicDocuments(t *testing.T) {
	ds, _ := newTestDocumentStore(t)
	ctx := context.Background()

	s := ds.OpenSession()
	docs := For(s, DynamicShape{Name: "orders"})
	order := &Dynamic{Body: ir.IRObject{"total": ir.IRInt(10), "lines": ir.NewIRArray(ir.IRString("a"))}}
	require.NoError(t, docs.Store(order))
	require.NoError(t, s.SaveChanges(ctx))
	assert.Equal(t, "orders/1-A", order.ID)

	loaded, ok, err := For(ds.OpenSession(), DynamicShape{Name: "orders"}).Load(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, order.ID, loaded.ID)
	assert.Equal(t, ir.IRInt(10), loaded.Body["total"])
}

func TestDocumentStore_Defaults(t *testing.T) {
	ds := NewDocumentStore(nil, WithSessionIDs(testutil.NewFixedGenerator("s1")))

	c := ds.Conventions()
	assert.IsType(t, ServerAssigned{}, c.Identity)
	assert.Equal(t, DefaultRequestTimeout, c.RequestTimeout)
	assert.Equal(t, DefaultMaxRequestsPerSession, c.MaxRequestsPerSession)
	assert.True(t, c.OptimisticConcurrency)

	s := ds.OpenSession()
	assert.Equal(t, "s1", s.ID())
	assert.Equal(t, StateOpen, s.State())
}
