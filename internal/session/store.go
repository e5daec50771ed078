package session

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/docsession/internal/ir"
)

// Executor is the server side of a session: atomic batch writes, single
// document reads and query execution. *store.Store implements it.
type Executor interface {
	// Submit applies cmds atomically and returns one result per command.
	Submit(ctx context.Context, cmds []ir.Command) (ir.BatchResult, error)

	// Fetch reads one document, returning a NOT_FOUND error when absent.
	Fetch(ctx context.Context, id string) (ir.Document, error)

	// ExecuteQuery runs a compiled query with stable result ordering.
	ExecuteQuery(ctx context.Context, q ir.CompiledQuery) ([]ir.Document, error)
}

// DefaultRequestTimeout bounds every request a session sends.
const DefaultRequestTimeout = 30 * time.Second

// Conventions configure the sessions a DocumentStore opens.
type Conventions struct {
	// Identity assigns identifiers to entities stored without one.
	Identity IdentityConvention

	// RequestTimeout bounds each Load, query and SaveChanges request.
	// Zero disables the bound.
	RequestTimeout time.Duration

	// MaxRequestsPerSession caps the requests one session may send.
	// Zero disables the cap.
	MaxRequestsPerSession int

	// OptimisticConcurrency sends the tracked revision with every update
	// and delete, so a concurrent write fails the batch with
	// CONCURRENCY_CONFLICT instead of being overwritten.
	OptimisticConcurrency bool
}

// DefaultConventions returns server-assigned identities, a 30 second
// request timeout, a 30 request budget and optimistic concurrency.
func DefaultConventions() Conventions {
	return Conventions{
		Identity:              ServerAssigned{},
		RequestTimeout:        DefaultRequestTimeout,
		MaxRequestsPerSession: DefaultMaxRequestsPerSession,
		OptimisticConcurrency: true,
	}
}

// DocumentStore is the entry point of the client: it holds the executor
// and conventions and opens sessions. It is safe for concurrent use; the
// sessions it opens are not.
type DocumentStore struct {
	exec        Executor
	conventions Conventions
	logger      *slog.Logger
	sessionIDs  IDGenerator
}

// Option configures a DocumentStore.
type Option func(*DocumentStore)

// WithConventions replaces the default conventions.
func WithConventions(c Conventions) Option {
	return func(d *DocumentStore) { d.conventions = c }
}

// WithLogger sets the logger sessions log to.
func WithLogger(l *slog.Logger) Option {
	return func(d *DocumentStore) { d.logger = l }
}

// WithSessionIDs sets the generator of session ids used in logs.
func WithSessionIDs(g IDGenerator) Option {
	return func(d *DocumentStore) { d.sessionIDs = g }
}

// NewDocumentStore creates a DocumentStore over exec.
func NewDocumentStore(exec Executor, opts ...Option) *DocumentStore {
	d := &DocumentStore{
		exec:        exec,
		conventions: DefaultConventions(),
		sessionIDs:  UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.conventions.Identity == nil {
		d.conventions.Identity = ServerAssigned{}
	}
	return d
}

// Conventions returns the conventions sessions are opened with.
func (d *DocumentStore) Conventions() Conventions {
	return d.conventions
}

// OpenSession opens a new unit of work.
func (d *DocumentStore) OpenSession() *Session {
	id := d.sessionIDs.Generate()
	s := &Session{
		id:          id,
		exec:        d.exec,
		conventions: d.conventions,
		registry:    NewIdentityRegistry(d.conventions.Identity),
		tracker:     NewChangeTracker(),
		budget:      newRequestBudget(d.conventions.MaxRequestsPerSession),
		logger:      d.logger.With("session", id),
	}
	s.logger.Debug("session opened")
	return s
}
