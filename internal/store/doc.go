// Package store provides the SQLite-backed document store the session
// talks to.
//
// The store implements the three operations a session needs:
//   - Submit: apply a batch of put/delete commands atomically
//   - Fetch: read one document by identifier
//   - ExecuteQuery: parse query text, compile it to SQL and run it
//
// # Critical Patterns
//
// Atomic Batches
//   - A batch runs in one SQLite transaction; any failing command rolls
//     back every command before it
//   - A command carrying an expected revision fails the batch with
//     CONCURRENCY_CONFLICT when the stored revision differs
//
// Revisions and Identities
//   - Every write takes the next value of a database-wide etag counter;
//     the revision is "<node tag>:<etag>"
//   - A put without an id (or with an id ending in "/") is assigned
//     "<prefix><n>-<node tag>" from a per-prefix counter ("users/1-A")
//
// Deterministic Query Results
//   - Every compiled query ends its ORDER BY with id COLLATE BINARY ASC
//   - Documents are stored as canonical JSON so equal bodies are equal text
//
// Query Plans
//   - Parsed query text is cached in an LRU keyed by the text itself; the
//     builder emits parameterized text, so the cache hit rate is high
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - A custom driver registers the search() SQL function on each connection
package store
