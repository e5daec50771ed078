package store

import (
	"context"
	"fmt"

	"github.com/roach88/docsession/internal/ir"
)

// Change is one live document in etag order.
type Change struct {
	Etag     int64
	Document ir.Document
}

// CollectionStats summarizes one collection.
type CollectionStats struct {
	Name  string
	Count int64
}

// ReadChanges returns live documents written after afterEtag, oldest write
// first. A limit of zero or less returns every change.
//
// Deleted documents leave no trace, so a reader sees each surviving
// document at its latest revision only.
func (s *Store) ReadChanges(ctx context.Context, afterEtag int64, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT etag, id, collection, revision, data
		FROM documents
		WHERE etag > ?
		ORDER BY etag ASC, id COLLATE BINARY ASC
		LIMIT ?
	`, afterEtag, limit)
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		var data string
		if err := rows.Scan(&c.Etag, &c.Document.ID, &c.Document.Collection, &c.Document.Revision, &data); err != nil {
			return nil, fmt.Errorf("read changes: %w", err)
		}
		if c.Document.Body, err = unmarshalBody(data); err != nil {
			return nil, fmt.Errorf("read changes: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	return changes, nil
}

// LastEtag returns the etag of the most recent write, or 0 for a fresh
// database.
func (s *Store) LastEtag(ctx context.Context) (int64, error) {
	var etag int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM counters WHERE name = 'last_etag'`,
	).Scan(&etag)
	if err != nil {
		return 0, fmt.Errorf("last etag: %w", err)
	}
	return etag, nil
}

// Collections returns every non-empty collection with its document count,
// sorted by name.
func (s *Store) Collections(ctx context.Context) ([]CollectionStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, COUNT(*)
		FROM documents
		GROUP BY collection
		ORDER BY collection COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("collections: %w", err)
	}
	defer rows.Close()

	var stats []CollectionStats
	for rows.Next() {
		var c CollectionStats
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, fmt.Errorf("collections: %w", err)
		}
		stats = append(stats, c)
	}
	return stats, rows.Err()
}

// Count returns the number of documents in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ?`, collection,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// Drop deletes every document in a collection and resets its identity
// counter. It returns the number of documents removed.
func (s *Store) Drop(ctx context.Context, collection string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("drop %s: %w", collection, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, collection)
	if err != nil {
		return 0, fmt.Errorf("drop %s: %w", collection, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM identities WHERE prefix = ?`, collection+"/"); err != nil {
		return 0, fmt.Errorf("drop %s: reset identities: %w", collection, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("drop %s: %w", collection, err)
	}

	n, _ := res.RowsAffected()
	s.logger.Debug("collection dropped", "collection", collection, "documents", n)
	return n, nil
}
