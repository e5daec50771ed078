// Package session implements the client-side unit of work for the document
// store.
//
// A Session owns three pieces of state:
//
//   - IdentityRegistry: the identity map. Loading one id twice in a session
//     returns the same entity pointer, and two entities can never share an
//     id.
//   - ChangeTracker: the attach-ordered list of handles with the snapshot
//     each was loaded or last committed with. ComputeDiff compares snapshots
//     with the current serialized state to find created, modified and
//     deleted documents.
//   - Query: a fluent builder that records predicate calls and compiles them
//     into query text plus named parameters on demand.
//
// Nothing reaches the Executor until Load, a query terminal call, or
// SaveChanges. SaveChanges submits every change as one atomic batch and
// only updates local state after the batch succeeds, so a failed or
// cancelled call can be retried as is.
//
// Typed access goes through Collection[T], which binds a Shape[T] to a
// session:
//
//	users := session.For(s, userShape)
//	u := &User{Name: "John Doe", Age: 35}
//	if err := users.Store(u); err != nil { ... }
//	if err := s.SaveChanges(ctx); err != nil { ... }
//
// A Session is not safe for concurrent use. Concurrent calls are rejected
// with SESSION_BUSY instead of racing.
package session
