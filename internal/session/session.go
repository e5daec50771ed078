package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/docsession/internal/ir"
)

// State is the lifecycle state of a session.
type State int

const (
	// StateOpen accepts loads, stores and queries.
	StateOpen State = iota
	// StateCommitted has completed at least one SaveChanges. It accepts
	// the same calls as StateOpen; SaveChanges re-diffs current state.
	StateCommitted
	// StateClosed rejects every call with SESSION_CLOSED.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateCommitted:
		return "Committed"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is a unit of work over the document store.
//
// Stores and deletes are staged locally; Load and queries attach the
// documents they return; SaveChanges sends every change as one atomic
// batch. See the package documentation for the full contract.
type Session struct {
	id          string
	exec        Executor
	conventions Conventions
	registry    *IdentityRegistry
	tracker     *ChangeTracker
	budget      *requestBudget
	logger      *slog.Logger

	// flight guards against overlapping calls. Calls never wait for it.
	flight sync.Mutex
	state  State
}

// ID returns the session id used in logs.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// enter starts a call, rejecting closed sessions and overlapping calls.
// The returned func ends the call.
func (s *Session) enter() (func(), error) {
	if !s.flight.TryLock() {
		return nil, &ir.Error{
			Code:    ir.ErrCodeSessionBusy,
			Message: "another operation is in flight on this session",
			Details: map[string]string{"session": s.id},
		}
	}
	if s.state == StateClosed {
		s.flight.Unlock()
		return nil, &ir.Error{
			Code:    ir.ErrCodeSessionClosed,
			Message: "session is closed",
			Details: map[string]string{"session": s.id},
		}
	}
	return s.flight.Unlock, nil
}

// request spends one request from the budget and bounds ctx by the
// request timeout.
func (s *Session) request(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := s.budget.spend(s.id); err != nil {
		return nil, nil, err
	}
	if s.conventions.RequestTimeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, s.conventions.RequestTimeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

// remoteError passes *ir.Error values through and reports anything else,
// timeouts and cancellation included, as TRANSPORT_FAILURE.
func remoteError(op string, err error) error {
	var e *ir.Error
	if errors.As(err, &e) {
		return err
	}
	return ir.NewTransportError(op, err)
}

// store stages a new entity.
func (s *Session) store(entity any, shape entityShape) error {
	end, err := s.enter()
	if err != nil {
		return err
	}
	defer end()

	if h, ok := s.registry.ResolveEntity(entity); ok {
		if h.kind == Deleted {
			return conflictingIdentity(h.id, "entity was deleted in this session")
		}
		return nil
	}

	collection := shape.collection()
	id := shape.identity(entity)
	if id == "" {
		if id, err = s.registry.AssignID(collection); err != nil {
			return err
		}
		if id != "" {
			shape.setIdentity(entity, id)
		}
	}

	h := &Handle{id: id, collection: collection, entity: entity, shape: shape}
	if err := s.registry.Attach(h); err != nil {
		return err
	}
	s.tracker.Track(h, Created)
	s.logger.Debug("entity stored", "collection", collection, "id", id)
	return nil
}

// attach tracks a document read from the server. An id already attached
// returns the existing handle and leaves the entity untouched.
func (s *Session) attach(doc ir.Document, shape entityShape, deserialize func(ir.IRObject) (any, error)) (*Handle, error) {
	if h, ok := s.registry.Resolve(doc.ID); ok {
		return h, nil
	}

	entity, err := deserialize(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("deserialize %s: %w", doc.ID, err)
	}
	shape.setIdentity(entity, doc.ID)

	collection := doc.Collection
	if collection == "" {
		collection = shape.collection()
	}
	h := &Handle{
		id:         doc.ID,
		collection: collection,
		entity:     entity,
		revision:   doc.Revision,
		shape:      shape,
		persisted:  true,
	}
	body, err := shape.serialize(entity)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", doc.ID, err)
	}
	if err := s.tracker.SnapshotAtAttach(h, body); err != nil {
		return nil, err
	}
	if err := s.registry.Attach(h); err != nil {
		return nil, err
	}
	s.tracker.Track(h, Unchanged)
	return h, nil
}

// load returns the handle of id, fetching it on an identity map miss.
// A nil handle means the document does not exist or was deleted in this
// session.
func (s *Session) load(ctx context.Context, id string, shape entityShape, deserialize func(ir.IRObject) (any, error)) (*Handle, error) {
	end, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer end()

	if h, ok := s.registry.Resolve(id); ok {
		if h.kind == Deleted {
			return nil, nil
		}
		return h, nil
	}

	rctx, cancel, err := s.request(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	doc, err := s.exec.Fetch(rctx, id)
	if ir.IsNotFound(err) {
		s.logger.Debug("document not found", "id", id)
		return nil, nil
	}
	if err != nil {
		return nil, remoteError("load "+id, err)
	}
	s.logger.Debug("document loaded", "id", id, "revision", doc.Revision)
	return s.attach(doc, shape, deserialize)
}

// query executes cq and returns one entity per result. Documents are
// attached; projections are deserialized but not tracked.
func (s *Session) query(ctx context.Context, cq ir.CompiledQuery, shape entityShape, deserialize func(ir.IRObject) (any, error)) ([]any, error) {
	end, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer end()

	rctx, cancel, err := s.request(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	docs, err := s.exec.ExecuteQuery(rctx, cq)
	if err != nil {
		return nil, remoteError("query", err)
	}

	results := make([]any, 0, len(docs))
	for _, doc := range docs {
		if doc.Projection || doc.ID == "" {
			entity, err := deserialize(doc.Body)
			if err != nil {
				return nil, fmt.Errorf("deserialize projection: %w", err)
			}
			results = append(results, entity)
			continue
		}
		h, err := s.attach(doc, shape, deserialize)
		if err != nil {
			return nil, err
		}
		if h.kind == Deleted {
			continue
		}
		results = append(results, h.entity)
	}
	s.logger.Debug("query executed", "query", cq.Text, "results", len(results))
	return results, nil
}

// Delete marks a tracked entity for deletion. Deleting an entity stored in
// this session and never committed cancels the store.
func (s *Session) Delete(entity any) error {
	end, err := s.enter()
	if err != nil {
		return err
	}
	defer end()

	h, ok := s.registry.ResolveEntity(entity)
	if !ok {
		return ir.Errorf(ir.ErrCodeNotFound, "entity %T is not attached to this session", entity)
	}
	s.tracker.Track(h, Deleted)
	s.logger.Debug("entity deleted", "id", h.id)
	return nil
}

// DeleteByID marks the document id for deletion without loading it. If
// the document is attached, its entity is deleted instead.
func (s *Session) DeleteByID(id string) error {
	end, err := s.enter()
	if err != nil {
		return err
	}
	defer end()

	if id == "" {
		return fmt.Errorf("delete requires an identifier")
	}
	h, ok := s.registry.Resolve(id)
	if !ok {
		h = &Handle{id: id, persisted: true}
		if err := s.registry.Attach(h); err != nil {
			return err
		}
	}
	s.tracker.Track(h, Deleted)
	s.logger.Debug("document deleted", "id", id)
	return nil
}

// SaveChanges submits every pending change as one atomic batch.
//
// With nothing to change it sends no request. On success, created
// entities receive their server identifiers, every written handle records
// its new revision and snapshot, and deleted handles are detached. On any
// failure no local state changes, so the call can be retried.
func (s *Session) SaveChanges(ctx context.Context) error {
	end, err := s.enter()
	if err != nil {
		return err
	}
	defer end()

	entries, err := s.tracker.ComputeDiff()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		s.pruneCancelled()
		s.state = StateCommitted
		s.logger.Debug("nothing to save")
		return nil
	}

	cmds := s.commands(entries)

	rctx, cancel, err := s.request(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	res, err := s.exec.Submit(rctx, cmds)
	if err != nil {
		s.logger.Debug("save failed", "commands", len(cmds), "error", err)
		return remoteError("save changes", err)
	}
	if len(res.Results) != len(cmds) {
		return ir.NewTransportError("save changes",
			fmt.Errorf("store returned %d results for %d commands", len(res.Results), len(cmds)))
	}

	for i, e := range entries {
		s.applyResult(e, res.Results[i])
	}
	s.pruneCancelled()
	s.state = StateCommitted
	s.logger.Debug("changes saved", "commands", len(cmds))
	return nil
}

// commands builds the batch for entries.
func (s *Session) commands(entries []ChangeEntry) []ir.Command {
	cmds := make([]ir.Command, len(entries))
	for i, e := range entries {
		h := e.Handle
		var expected string
		if s.conventions.OptimisticConcurrency && h.persisted {
			expected = h.revision
		}
		switch e.Kind {
		case Deleted:
			cmds[i] = ir.Command{Kind: ir.CommandDelete, ID: h.id, ExpectedRevision: expected}
		default:
			cmds[i] = ir.Command{
				Kind:             ir.CommandPut,
				ID:               h.id,
				Collection:       h.collection,
				Body:             e.Body,
				ExpectedRevision: expected,
			}
		}
	}
	return cmds
}

// applyResult records a committed change on its handle.
func (s *Session) applyResult(e ChangeEntry, res ir.CommandResult) {
	h := e.Handle
	if e.Kind == Deleted {
		s.registry.Detach(h)
		s.tracker.Forget(h)
		return
	}

	snapshot := e.snapshot
	if res.ID != h.id {
		s.registry.Bind(h, res.ID)
		h.shape.setIdentity(h.entity, res.ID)
		if _, snap, err := serializeHandle(h); err == nil {
			snapshot = snap
		}
	}
	h.revision = res.Revision
	h.persisted = true
	h.snapshot = snapshot
	h.kind = Unchanged
}

// pruneCancelled forgets handles created and deleted in this session.
func (s *Session) pruneCancelled() {
	for _, h := range s.tracker.cancelled() {
		s.registry.Detach(h)
		s.tracker.Forget(h)
	}
}

// Close ends the session and releases every tracked entity. Closing twice
// is a no-op.
func (s *Session) Close() error {
	if !s.flight.TryLock() {
		return &ir.Error{Code: ir.ErrCodeSessionBusy, Message: "cannot close a session with an operation in flight"}
	}
	defer s.flight.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.registry.Clear()
	s.tracker.Clear()
	s.state = StateClosed
	s.logger.Debug("session closed", "requests", s.budget.used())
	return nil
}

// Advanced exposes inspection of the session's tracked state.
func (s *Session) Advanced() Advanced {
	return Advanced{s: s}
}

// Advanced inspects a session without changing it.
type Advanced struct {
	s *Session
}

// HandleOf returns the handle of a tracked entity.
func (a Advanced) HandleOf(entity any) (*Handle, bool) {
	return a.s.registry.ResolveEntity(entity)
}

// IsLoaded reports whether id is attached to the session.
func (a Advanced) IsLoaded(id string) bool {
	h, ok := a.s.registry.Resolve(id)
	return ok && h.kind != Deleted
}

// HasChanges reports whether SaveChanges would send a request.
func (a Advanced) HasChanges() (bool, error) {
	entries, err := a.s.tracker.ComputeDiff()
	return len(entries) > 0, err
}

// WhatChanged returns the changes SaveChanges would send, in attach order.
func (a Advanced) WhatChanged() ([]ChangeEntry, error) {
	return a.s.tracker.ComputeDiff()
}

// NumberOfRequests returns the requests the session has sent.
func (a Advanced) NumberOfRequests() int {
	return a.s.budget.used()
}

// Evict stops tracking an entity. Later changes to it are ignored, and
// loading its id fetches a fresh copy.
func (a Advanced) Evict(entity any) {
	if h, ok := a.s.registry.ResolveEntity(entity); ok {
		a.s.registry.Detach(h)
		a.s.tracker.Forget(h)
	}
}
