package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/docsession/internal/ir"
	"github.com/roach88/docsession/internal/queryir"
	"github.com/roach88/docsession/internal/querylang"
	"github.com/roach88/docsession/internal/querysql"
)

// plan is a parsed and validated query, cached by its text.
type plan struct {
	query  queryir.Query
	params []string
}

// Fetch reads one document by id.
// Returns a NOT_FOUND error if the document does not exist.
func (s *Store) Fetch(ctx context.Context, id string) (ir.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, collection, revision, data
		FROM documents
		WHERE id = ?
	`, id)

	doc, err := scanDocumentRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Document{}, ir.NewNotFoundError(id)
	}
	if err != nil {
		return ir.Document{}, fmt.Errorf("fetch %s: %w", id, err)
	}
	return doc, nil
}

// ExecuteQuery runs a compiled query and returns matching documents in
// query order.
//
// The query text is parsed once and cached. Ordering keys in q.Ordering are
// applied after any ordering written in the text. Every parameter the text
// references must be bound in q.Parameters; unreferenced parameters are
// ignored.
//
// Results of grouped and select queries have Projection set.
func (s *Store) ExecuteQuery(ctx context.Context, q ir.CompiledQuery) ([]ir.Document, error) {
	p, err := s.plan(q.Text)
	if err != nil {
		return nil, err
	}
	for _, name := range p.params {
		if _, ok := q.Parameters[name]; !ok {
			return nil, ir.NewMissingParameterError(name)
		}
	}

	query := p.query
	if len(q.Ordering) > 0 {
		query.OrderBy = slices.Clone(query.OrderBy)
		for _, k := range q.Ordering {
			query.OrderBy = append(query.OrderBy, orderKeyFromIR(k))
		}
	}

	compiler := querysql.NewSQLCompiler()
	for name, v := range q.Parameters {
		compiler.Params[name] = v
	}
	sqlText, args, err := compiler.Compile(query)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, queryFailure(ctx, q.Text, err)
	}
	defer rows.Close()

	projection := query.IsProjection()
	var docs []ir.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, queryFailure(ctx, q.Text, err)
		}
		doc.Projection = projection
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailure(ctx, q.Text, err)
	}

	s.logger.Debug("query executed", "query", q.Text, "results", len(docs))
	return docs, nil
}

// queryFailure classifies an error from running a query. Cancellation and
// deadlines stay plain errors; anything else is QUERY_FAILED.
func queryFailure(ctx context.Context, text string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("execute query: %w", err)
	}
	return &ir.Error{
		Code:    ir.ErrCodeQueryFailed,
		Message: "execute query",
		Details: map[string]string{"query": text},
		Err:     err,
	}
}

// plan returns the parsed form of text, parsing and caching it on a miss.
func (s *Store) plan(text string) (plan, error) {
	if p, ok := s.plans.Get(text); ok {
		return p, nil
	}
	q, err := querylang.Parse(text)
	if err != nil {
		return plan{}, err
	}
	p := plan{query: q, params: queryir.ParamNames(q)}
	s.plans.Add(text, p)
	return p, nil
}

// cachedPlans returns the number of cached query plans.
// Used for testing.
func (s *Store) cachedPlans() int {
	return s.plans.Len()
}

// orderKeyFromIR converts an ordering key. The field names "key()" and
// "count()" select the aggregates of a grouped query.
func orderKeyFromIR(k ir.OrderKey) queryir.OrderKey {
	key := queryir.OrderKey{Field: k.Field, Descending: k.Descending}
	switch k.Field {
	case queryir.AggKey.String():
		key.Field, key.Aggregate = "", queryir.AggKey
	case queryir.AggCount.String():
		key.Field, key.Aggregate = "", queryir.AggCount
	}
	return key
}

// scanDocument scans a document from sql.Rows.
func scanDocument(rows *sql.Rows) (ir.Document, error) {
	var doc ir.Document
	var data string
	if err := rows.Scan(&doc.ID, &doc.Collection, &doc.Revision, &data); err != nil {
		return ir.Document{}, fmt.Errorf("scan document: %w", err)
	}
	body, err := unmarshalBody(data)
	if err != nil {
		return ir.Document{}, fmt.Errorf("scan document %s: %w", doc.ID, err)
	}
	doc.Body = body
	return doc, nil
}

// scanDocumentRow scans a document from sql.Row.
func scanDocumentRow(row *sql.Row) (ir.Document, error) {
	var doc ir.Document
	var data string
	if err := row.Scan(&doc.ID, &doc.Collection, &doc.Revision, &data); err != nil {
		return ir.Document{}, err
	}
	body, err := unmarshalBody(data)
	if err != nil {
		return ir.Document{}, fmt.Errorf("scan document %s: %w", doc.ID, err)
	}
	doc.Body = body
	return doc, nil
}
