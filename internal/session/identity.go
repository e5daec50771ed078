package session

import (
	"fmt"

	"github.com/roach88/docsession/internal/ir"
)

// IdentityConvention decides the identifier of a new entity stored without
// one.
type IdentityConvention interface {
	// AssignID returns the identifier for a new document in collection.
	// An empty result leaves assignment to the server at commit time.
	AssignID(collection string) (string, error)
}

// ServerAssigned leaves identifiers empty until SaveChanges; the server
// assigns "<collection>/<n>-<node tag>" and the session writes it back
// into the entity.
type ServerAssigned struct{}

// AssignID implements IdentityConvention.
func (ServerAssigned) AssignID(string) (string, error) { return "", nil }

// UUIDConvention assigns "<collection>/<uuid>" on the client, so an entity
// has its final identifier as soon as it is stored.
type UUIDConvention struct {
	Generator IDGenerator
}

// AssignID implements IdentityConvention.
func (c UUIDConvention) AssignID(collection string) (string, error) {
	gen := c.Generator
	if gen == nil {
		gen = UUIDv7Generator{}
	}
	return collection + "/" + gen.Generate(), nil
}

// IdentityFunc adapts a function to IdentityConvention.
type IdentityFunc func(collection string) (string, error)

// AssignID implements IdentityConvention.
func (f IdentityFunc) AssignID(collection string) (string, error) { return f(collection) }

// IdentityRegistry is a session's identity map. It maps identifiers and
// entity pointers to handles, so each document has at most one in-memory
// entity per session.
type IdentityRegistry struct {
	convention IdentityConvention
	byID       map[string]*Handle
	byEntity   map[any]*Handle
}

// NewIdentityRegistry creates an empty registry. A nil convention means
// ServerAssigned.
func NewIdentityRegistry(convention IdentityConvention) *IdentityRegistry {
	if convention == nil {
		convention = ServerAssigned{}
	}
	return &IdentityRegistry{
		convention: convention,
		byID:       make(map[string]*Handle),
		byEntity:   make(map[any]*Handle),
	}
}

// AssignID returns a new identifier for an entity in collection. The
// result is empty under ServerAssigned.
func (r *IdentityRegistry) AssignID(collection string) (string, error) {
	id, err := r.convention.AssignID(collection)
	if err != nil {
		return "", fmt.Errorf("assign id in %s: %w", collection, err)
	}
	if id != "" {
		if _, taken := r.byID[id]; taken {
			return "", conflictingIdentity(id, "generated identifier is already attached")
		}
	}
	return id, nil
}

// Resolve looks up the handle attached under id.
func (r *IdentityRegistry) Resolve(id string) (*Handle, bool) {
	h, ok := r.byID[id]
	return h, ok
}

// ResolveEntity looks up the handle of an entity pointer.
func (r *IdentityRegistry) ResolveEntity(entity any) (*Handle, bool) {
	if entity == nil {
		return nil, false
	}
	h, ok := r.byEntity[entity]
	return h, ok
}

// Attach registers h under its id and entity. Attaching a second handle
// under an id or entity that already has one is a CONFLICTING_IDENTITY
// error; re-attaching the same handle is a no-op.
func (r *IdentityRegistry) Attach(h *Handle) error {
	if h.id != "" {
		if existing, ok := r.byID[h.id]; ok && existing != h {
			return conflictingIdentity(h.id, "a different entity is already attached with this identifier")
		}
	}
	if h.entity != nil {
		if existing, ok := r.byEntity[h.entity]; ok && existing != h {
			return conflictingIdentity(existing.id, "entity is already attached under another handle")
		}
	}
	if h.id != "" {
		r.byID[h.id] = h
	}
	if h.entity != nil {
		r.byEntity[h.entity] = h
	}
	return nil
}

// Bind records a server-confirmed identifier for h. Any stale mapping of
// id is replaced.
func (r *IdentityRegistry) Bind(h *Handle, id string) {
	if h.id != "" && h.id != id {
		delete(r.byID, h.id)
	}
	h.id = id
	r.byID[id] = h
}

// Detach removes h from the registry.
func (r *IdentityRegistry) Detach(h *Handle) {
	if h.id != "" && r.byID[h.id] == h {
		delete(r.byID, h.id)
	}
	if h.entity != nil && r.byEntity[h.entity] == h {
		delete(r.byEntity, h.entity)
	}
}

// Clear detaches every handle.
func (r *IdentityRegistry) Clear() {
	clear(r.byID)
	clear(r.byEntity)
}

func conflictingIdentity(id, msg string) *ir.Error {
	return &ir.Error{Code: ir.ErrCodeConflictingIdentity, Message: msg, ID: id}
}
