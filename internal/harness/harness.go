package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"slices"

	"github.com/roach88/docsession/internal/ir"
	"github.com/roach88/docsession/internal/schema"
	"github.com/roach88/docsession/internal/session"
	"github.com/roach88/docsession/internal/store"
	"github.com/roach88/docsession/internal/testutil"
)

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger passed to the store and sessions.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) { o.logger = l }
}

// harness holds the state of one scenario execution.
type harness struct {
	ds       *session.DocumentStore
	sessions map[string]*session.Session
	refs     map[string]*session.Dynamic
	result   *Result
	logger   *slog.Logger
}

// stepOutcome carries what expectations check beyond the trace event.
type stepOutcome struct {
	found *bool
	count *int
	body  ir.IRObject
}

// Run executes a scenario against a fresh in-memory store.
//
// Step failures and unmet expectations are reported in the Result; the
// returned error covers only setup failures (bad schema, store open).
// Session and UUID identifiers come from sequence generators so traces
// are identical across runs.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	storeOpts := []store.Option{store.WithLogger(o.logger)}
	if scenario.Schema != "" {
		reg, err := schema.Load(scenario.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema: %w", err)
		}
		storeOpts = append(storeOpts, store.WithSchemas(reg))
	}

	st, err := store.Open(store.MemoryPath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &harness{
		ds: session.NewDocumentStore(st,
			session.WithConventions(conventions(scenario.Conventions)),
			session.WithLogger(o.logger),
			session.WithSessionIDs(testutil.NewSequenceGenerator("session"))),
		sessions: make(map[string]*session.Session),
		refs:     make(map[string]*session.Dynamic),
		result:   NewResult(),
		logger:   o.logger,
	}

	for i, step := range scenario.Steps {
		h.runStep(ctx, i, step)
	}

	requests := make(map[string]int, len(h.sessions))
	for name, s := range h.sessions {
		requests[name] = s.Advanced().NumberOfRequests()
		s.Close()
	}

	actx := &AssertionContext{Store: st, Ctx: ctx, Requests: requests}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// conventions applies a scenario's overrides to the defaults.
func conventions(over *ConventionsSpec) session.Conventions {
	conv := session.DefaultConventions()
	if over == nil {
		return conv
	}
	if over.Identity == "uuid" {
		conv.Identity = session.UUIDConvention{Generator: testutil.NewSequenceGenerator("uuid")}
	}
	if over.MaxRequests != nil {
		conv.MaxRequestsPerSession = *over.MaxRequests
	}
	if over.OptimisticConcurrency != nil {
		conv.OptimisticConcurrency = *over.OptimisticConcurrency
	}
	return conv
}

// session returns the named session, opening it on first use.
func (h *harness) session(name string) *session.Session {
	s, ok := h.sessions[name]
	if !ok {
		s = h.ds.OpenSession()
		h.sessions[name] = s
	}
	return s
}

func (h *harness) runStep(ctx context.Context, i int, step Step) {
	name := step.SessionName()
	s := h.session(name)
	event := TraceEvent{Step: i, Session: name, Op: step.Op()}

	var out stepOutcome
	var err error
	switch event.Op {
	case OpStore:
		err = h.store(s, step.Store, &event)
	case OpLoad:
		out, err = h.load(ctx, s, step.Load, &event)
	case OpModify:
		err = h.modify(step.Modify)
	case OpDelete:
		err = h.delete(s, step.Delete, &event)
	case OpDeleteID:
		event.IDs = []string{step.DeleteID}
		err = s.DeleteByID(step.DeleteID)
	case OpQuery:
		out, err = h.query(ctx, s, step.Query, &event)
	case OpSaveChanges:
		err = h.saveChanges(ctx, s, &event)
	case OpClose:
		err = s.Close()
	}
	if err != nil {
		event.Error = errorCode(err)
	}
	event.Requests = s.Advanced().NumberOfRequests()
	h.result.AddEvent(event)

	h.logger.Debug("step completed", "step", i, "session", name, "op", event.Op, "error", err)
	for _, msg := range checkExpect(step.Expect, event, out, err) {
		h.result.AddError(fmt.Sprintf("step %d (%s): %s", i, event.Op, msg))
	}
}

func (h *harness) store(s *session.Session, st *StoreStep, ev *TraceEvent) error {
	body, err := toIRObject(st.Body)
	if err != nil {
		return fmt.Errorf("body: %w", err)
	}
	doc := &session.Dynamic{ID: st.ID, Body: body}
	if err := session.For(s, session.DynamicShape{Name: st.Collection}).Store(doc); err != nil {
		return err
	}
	h.refs[st.Ref] = doc
	if doc.ID != "" {
		ev.IDs = []string{doc.ID}
	}
	return nil
}

func (h *harness) load(ctx context.Context, s *session.Session, l *LoadStep, ev *TraceEvent) (stepOutcome, error) {
	shape := session.DynamicShape{Name: store.CollectionFromID(l.ID)}
	doc, found, err := session.For(s, shape).Load(ctx, l.ID)
	if err != nil {
		return stepOutcome{}, err
	}
	out := stepOutcome{found: &found}
	if found {
		ev.IDs = []string{doc.ID}
		out.body = doc.Body
		if l.Ref != "" {
			h.refs[l.Ref] = doc
		}
	}
	return out, nil
}

func (h *harness) modify(m *ModifyStep) error {
	doc, err := h.ref(m.Ref)
	if err != nil {
		return err
	}
	set, err := toIRObject(m.Set)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}
	if doc.Body == nil {
		doc.Body = ir.IRObject{}
	}
	for k, v := range set {
		doc.Body[k] = v
	}
	for _, k := range m.Unset {
		delete(doc.Body, k)
	}
	return nil
}

func (h *harness) delete(s *session.Session, ref string, ev *TraceEvent) error {
	doc, err := h.ref(ref)
	if err != nil {
		return err
	}
	if doc.ID != "" {
		ev.IDs = []string{doc.ID}
	}
	return s.Delete(doc)
}

func (h *harness) query(ctx context.Context, s *session.Session, q *QueryStep, ev *TraceEvent) (stepOutcome, error) {
	coll := session.For(s, session.DynamicShape{Name: q.Collection})
	var qb *dynamicQuery
	if q.Text != "" {
		qb = coll.RawQuery(q.Text)
	} else {
		qb = applyBuild(coll.Query(), q.Build)
	}
	names := make([]string, 0, len(q.Params))
	for name := range q.Params {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		qb = qb.AddParameter(name, q.Params[name])
	}

	cq, err := qb.Compile()
	if err != nil {
		return stepOutcome{}, err
	}
	ev.Query = cq.Text
	ev.Params = cq.Parameters
	for _, k := range cq.Ordering {
		dir := "asc"
		if k.Descending {
			dir = "desc"
		}
		ev.Ordering = append(ev.Ordering, k.Field+" "+dir)
	}

	docs, err := qb.ToList(ctx)
	if err != nil {
		return stepOutcome{}, err
	}
	count := len(docs)
	out := stepOutcome{count: &count}
	for _, doc := range docs {
		if doc.ID != "" {
			ev.IDs = append(ev.IDs, doc.ID)
		} else {
			ev.Rows = append(ev.Rows, ir.ToGo(doc.Body))
		}
	}
	if len(docs) > 0 {
		out.body = docs[0].Body
		if q.Ref != "" {
			h.refs[q.Ref] = docs[0]
		}
	}
	return out, nil
}

func (h *harness) saveChanges(ctx context.Context, s *session.Session, ev *TraceEvent) error {
	changes, err := s.Advanced().WhatChanged()
	if err != nil {
		return err
	}
	for _, c := range changes {
		id := c.Handle.ID()
		if id == "" {
			id = c.Handle.Collection() + "/"
		}
		ev.Changes = append(ev.Changes, c.Kind.String()+" "+id)
	}

	if err := s.SaveChanges(ctx); err != nil {
		return err
	}
	for _, c := range changes {
		ev.IDs = append(ev.IDs, c.Handle.ID())
	}
	return nil
}

func (h *harness) ref(name string) (*session.Dynamic, error) {
	doc, ok := h.refs[name]
	if !ok {
		return nil, fmt.Errorf("unknown ref %q", name)
	}
	return doc, nil
}

// errorCode returns err's code, or ERROR for errors without one.
func errorCode(err error) string {
	if code := ir.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}

// checkExpect compares a step's outcome with its expectation.
func checkExpect(exp *Expect, ev TraceEvent, out stepOutcome, err error) []string {
	if exp == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}

	var msgs []string
	if exp.Error != "" {
		if ev.Error != exp.Error {
			msgs = append(msgs, fmt.Sprintf("expected error %s, got %q", exp.Error, ev.Error))
		}
	} else if err != nil {
		msgs = append(msgs, fmt.Sprintf("unexpected error: %v", err))
	}
	if exp.Found != nil && (out.found == nil || *out.found != *exp.Found) {
		msgs = append(msgs, fmt.Sprintf("expected found=%t", *exp.Found))
	}
	if exp.Count != nil {
		if out.count == nil {
			msgs = append(msgs, fmt.Sprintf("expected %d results, got none", *exp.Count))
		} else if *out.count != *exp.Count {
			msgs = append(msgs, fmt.Sprintf("expected %d results, got %d", *exp.Count, *out.count))
		}
	}
	if exp.IDs != nil && !slices.Equal(exp.IDs, ev.IDs) {
		msgs = append(msgs, fmt.Sprintf("expected ids %v, got %v", exp.IDs, ev.IDs))
	}
	if exp.Text != "" && exp.Text != ev.Query {
		msgs = append(msgs, fmt.Sprintf("expected query %q, got %q", exp.Text, ev.Query))
	}
	if exp.Body != nil {
		if msg := matchBody(out.body, exp.Body); msg != "" {
			msgs = append(msgs, msg)
		}
	}
	if exp.Requests != nil && *exp.Requests != ev.Requests {
		msgs = append(msgs, fmt.Sprintf("expected %d requests, got %d", *exp.Requests, ev.Requests))
	}
	return msgs
}

// matchBody checks that body holds every expected field (subset match).
// It returns "" on a match.
func matchBody(body ir.IRObject, expected map[string]any) string {
	if body == nil {
		return "expected a document body, got none"
	}
	want, err := toIRObject(expected)
	if err != nil {
		return fmt.Sprintf("expected body: %v", err)
	}
	for _, k := range want.SortedKeys() {
		got, ok := body[k]
		if !ok {
			return fmt.Sprintf("field %q missing", k)
		}
		if !reflect.DeepEqual(got, want[k]) {
			return fmt.Sprintf("field %q = %v, want %v", k, ir.ToGo(got), ir.ToGo(want[k]))
		}
	}
	return ""
}

// toIRObject converts YAML-decoded values. Floats are rejected.
func toIRObject(m map[string]any) (ir.IRObject, error) {
	if m == nil {
		return ir.IRObject{}, nil
	}
	v, err := ir.FromGo(m)
	if err != nil {
		return nil, err
	}
	return v.(ir.IRObject), nil
}
