package session

import (
	"context"
	"fmt"

	"github.com/roach88/docsession/internal/ir"
)

// Collection is typed access to one session through a Shape.
type Collection[T any] struct {
	s     *Session
	shape Shape[T]
}

// For binds shape to s.
func For[T any](s *Session, shape Shape[T]) *Collection[T] {
	return &Collection[T]{s: s, shape: shape}
}

// Session returns the session the collection is bound to.
func (c *Collection[T]) Session() *Session { return c.s }

// Store stages entity for insertion at the next SaveChanges. An entity
// without an identifier gets one from the identity convention, or from the
// server at commit time. Storing an already tracked entity is a no-op.
// Store never sends a request.
func (c *Collection[T]) Store(entity *T) error {
	if entity == nil {
		return fmt.Errorf("store: nil %T", entity)
	}
	return c.s.store(entity, eraseShape(c.shape))
}

// Load returns the entity with id. A second Load of the same id returns
// the same pointer without a request. A missing document returns false
// and no error.
func (c *Collection[T]) Load(ctx context.Context, id string) (*T, bool, error) {
	h, err := c.s.load(ctx, id, eraseShape(c.shape), c.deserialize)
	if err != nil || h == nil {
		return nil, false, err
	}
	entity, err := c.entityOf(h)
	if err != nil {
		return nil, false, err
	}
	return entity, true, nil
}

// Delete marks entity for deletion at the next SaveChanges.
func (c *Collection[T]) Delete(entity *T) error {
	return c.s.Delete(entity)
}

// Query starts a builder query over the shape's collection.
func (c *Collection[T]) Query() *Query[T] {
	return newQuery(c)
}

// RawQuery starts a query from query text. Parameters referenced as $name
// are bound with AddParameter.
func (c *Collection[T]) RawQuery(text string) *Query[T] {
	return newRawQuery(c, text)
}

func (c *Collection[T]) execute(ctx context.Context, cq ir.CompiledQuery) ([]*T, error) {
	results, err := c.s.query(ctx, cq, eraseShape(c.shape), c.deserialize)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(results))
	for i, r := range results {
		entity, ok := r.(*T)
		if !ok {
			return nil, ir.Errorf(ir.ErrCodeConflictingIdentity,
				"query result is already tracked as %T, not %T", r, entity)
		}
		out[i] = entity
	}
	return out, nil
}

func (c *Collection[T]) deserialize(body ir.IRObject) (any, error) {
	return c.shape.Deserialize(body)
}

// entityOf returns h's entity as *T.
func (c *Collection[T]) entityOf(h *Handle) (*T, error) {
	entity, ok := h.entity.(*T)
	if !ok {
		return nil, &ir.Error{
			Code:    ir.ErrCodeConflictingIdentity,
			Message: fmt.Sprintf("document is already tracked as %T", h.entity),
			ID:      h.id,
		}
	}
	return entity, nil
}
