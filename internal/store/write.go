package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/docsession/internal/ir"
)

// Submit applies a batch of commands atomically, in order.
//
// Either every command is applied or none is: the batch runs in a single
// transaction and the first failing command rolls the transaction back.
// Results are returned in command order.
//
// Failure cases:
//   - CONCURRENCY_CONFLICT: a command's ExpectedRevision does not match
//   - SCHEMA_VIOLATION: a put body fails its collection schema
//   - CONFLICTING_IDENTITY: a put would move a document to another collection
func (s *Store) Submit(ctx context.Context, cmds []ir.Command) (ir.BatchResult, error) {
	if len(cmds) == 0 {
		return ir.BatchResult{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.BatchResult{}, fmt.Errorf("submit: begin transaction: %w", err)
	}
	defer tx.Rollback()

	results := make([]ir.CommandResult, 0, len(cmds))
	for i, cmd := range cmds {
		var res ir.CommandResult
		switch cmd.Kind {
		case ir.CommandPut:
			res, err = s.put(ctx, tx, cmd)
		case ir.CommandDelete:
			res, err = s.delete(ctx, tx, cmd)
		default:
			err = fmt.Errorf("unknown command kind %d", cmd.Kind)
		}
		if err != nil {
			s.logger.Debug("batch rolled back",
				"command", i,
				"kind", cmd.Kind.String(),
				"id", cmd.ID,
				"error", err)
			return ir.BatchResult{}, fmt.Errorf("submit: command %d (%s %s): %w", i, cmd.Kind, cmd.ID, err)
		}
		results = append(results, res)
	}

	if err := tx.Commit(); err != nil {
		return ir.BatchResult{}, fmt.Errorf("submit: commit: %w", err)
	}

	s.logger.Debug("batch committed", "commands", len(cmds))
	return ir.BatchResult{Results: results}, nil
}

// put creates or replaces one document inside the batch transaction.
func (s *Store) put(ctx context.Context, tx *sql.Tx, cmd ir.Command) (ir.CommandResult, error) {
	collection := cmd.Collection
	if collection == "" {
		collection = CollectionFromID(cmd.ID)
	}
	if collection == "" {
		return ir.CommandResult{}, fmt.Errorf("put %q: cannot determine collection", cmd.ID)
	}

	id := cmd.ID
	if id == "" || strings.HasSuffix(id, "/") {
		prefix := id
		if prefix == "" {
			prefix = collection + "/"
		}
		var err error
		if id, err = s.nextIdentity(ctx, tx, prefix); err != nil {
			return ir.CommandResult{}, err
		}
	}

	if err := s.schemas.Validate(collection, id, cmd.Body); err != nil {
		return ir.CommandResult{}, err
	}
	data, err := marshalBody(cmd.Body)
	if err != nil {
		return ir.CommandResult{}, err
	}

	current, currentCollection, exists, err := s.currentRevision(ctx, tx, id)
	if err != nil {
		return ir.CommandResult{}, err
	}
	if cmd.ExpectedRevision != "" && current != cmd.ExpectedRevision {
		return ir.CommandResult{}, ir.NewConcurrencyError(id, cmd.ExpectedRevision, current)
	}
	if exists && currentCollection != collection {
		return ir.CommandResult{}, &ir.Error{
			Code:    ir.ErrCodeConflictingIdentity,
			Message: fmt.Sprintf("document belongs to collection %s, not %s", currentCollection, collection),
			ID:      id,
		}
	}

	etag, err := s.nextEtag(ctx, tx)
	if err != nil {
		return ir.CommandResult{}, err
	}
	revision := revisionFor(s.nodeTag, etag)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, collection, revision, etag, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			revision = excluded.revision,
			etag = excluded.etag,
			data = excluded.data
	`, id, collection, revision, etag, data)
	if err != nil {
		return ir.CommandResult{}, fmt.Errorf("put %s: %w", id, err)
	}

	return ir.CommandResult{ID: id, Revision: revision}, nil
}

// delete removes one document inside the batch transaction. Deleting a
// missing document is a no-op unless a revision was expected.
func (s *Store) delete(ctx context.Context, tx *sql.Tx, cmd ir.Command) (ir.CommandResult, error) {
	if cmd.ID == "" {
		return ir.CommandResult{}, fmt.Errorf("delete: id is required")
	}

	current, _, exists, err := s.currentRevision(ctx, tx, cmd.ID)
	if err != nil {
		return ir.CommandResult{}, err
	}
	if cmd.ExpectedRevision != "" && current != cmd.ExpectedRevision {
		return ir.CommandResult{}, ir.NewConcurrencyError(cmd.ID, cmd.ExpectedRevision, current)
	}
	if !exists {
		return ir.CommandResult{ID: cmd.ID}, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, cmd.ID); err != nil {
		return ir.CommandResult{}, fmt.Errorf("delete %s: %w", cmd.ID, err)
	}
	return ir.CommandResult{ID: cmd.ID, Deleted: true}, nil
}

// currentRevision reads the stored revision and collection of id.
func (s *Store) currentRevision(ctx context.Context, tx *sql.Tx, id string) (revision, collection string, exists bool, err error) {
	err = tx.QueryRowContext(ctx,
		`SELECT revision, collection FROM documents WHERE id = ?`, id,
	).Scan(&revision, &collection)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("read revision of %s: %w", id, err)
	}
	return revision, collection, true, nil
}

// nextEtag increments and returns the database-wide etag.
func (s *Store) nextEtag(ctx context.Context, tx *sql.Tx) (int64, error) {
	var etag int64
	err := tx.QueryRowContext(ctx,
		`UPDATE counters SET value = value + 1 WHERE name = 'last_etag' RETURNING value`,
	).Scan(&etag)
	if err != nil {
		return 0, fmt.Errorf("next etag: %w", err)
	}
	return etag, nil
}

// nextIdentity assigns the next free "<prefix><n>-<node tag>" identifier.
// Counter values already taken by explicitly named documents are skipped.
func (s *Store) nextIdentity(ctx context.Context, tx *sql.Tx, prefix string) (string, error) {
	for {
		var n int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO identities (prefix, last_value) VALUES (?, 1)
			ON CONFLICT(prefix) DO UPDATE SET last_value = last_value + 1
			RETURNING last_value
		`, prefix).Scan(&n)
		if err != nil {
			return "", fmt.Errorf("next identity for %s: %w", prefix, err)
		}

		id := fmt.Sprintf("%s%d-%s", prefix, n, s.nodeTag)
		_, _, exists, err := s.currentRevision(ctx, tx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
}
