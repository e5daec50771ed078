package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/docsession/internal/querysql"
	"github.com/roach88/docsession/internal/schema"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on documents(collection, etag) for collection scans
const currentSchemaVersion = 1

// DefaultNodeTag is the node tag used in revisions and assigned identities.
const DefaultNodeTag = "A"

// MemoryPath opens a private in-memory database that disappears on Close.
const MemoryPath = ":memory:"

// DefaultPlanCacheSize is the number of parsed queries kept in memory.
const DefaultPlanCacheSize = 256

// driverName is the database/sql driver with the search() function
// registered on every connection.
const driverName = "sqlite3_docsession"

var registerDriver sync.Once

// Store is a document store backed by SQLite.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db      *sql.DB
	nodeTag string
	schemas *schema.Registry
	plans   *lru.Cache[string, plan]
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*options)

type options struct {
	nodeTag       string
	schemas       *schema.Registry
	planCacheSize int
	logger        *slog.Logger
}

// WithNodeTag sets the node tag embedded in revisions and identities.
func WithNodeTag(tag string) Option {
	return func(o *options) { o.nodeTag = tag }
}

// WithSchemas validates every put against the registry's collection schemas.
func WithSchemas(r *schema.Registry) Option {
	return func(o *options) { o.schemas = r }
}

// WithPlanCacheSize sets the query plan cache capacity.
func WithPlanCacheSize(n int) Option {
	return func(o *options) { o.planCacheSize = n }
}

// WithLogger sets the logger for batch and query events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{
		nodeTag:       DefaultNodeTag,
		planCacheSize: DefaultPlanCacheSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.nodeTag == "" {
		return nil, fmt.Errorf("node tag must not be empty")
	}
	if o.planCacheSize <= 0 {
		o.planCacheSize = DefaultPlanCacheSize
	}

	registerDriver.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc(querysql.SearchFunction, searchMatch, true)
			},
		})
	})

	// Open database (creates file if doesn't exist)
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool for SQLite
	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1) // Single writer to avoid SQLITE_BUSY errors
	db.SetMaxIdleConns(1) // Keep one connection ready

	// Apply required pragmas
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	// Apply schema migrations
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	plans, err := lru.New[string, plan](o.planCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create plan cache: %w", err)
	}

	return &Store{
		db:      db,
		nodeTag: o.nodeTag,
		schemas: o.schemas,
		plans:   plans,
		logger:  o.logger,
	}, nil
}

// Close closes the database connection.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// NodeTag returns the node tag used in revisions and identities.
func (s *Store) NodeTag() string {
	return s.nodeTag
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	// Apply migrations sequentially
	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	// Set version after all migrations
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the collection scan index.
func migrateToV1(db *sql.DB) error {
	// CREATE INDEX IF NOT EXISTS is safe - no-op if index exists
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_documents_collection_etag
		ON documents(collection, etag)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
