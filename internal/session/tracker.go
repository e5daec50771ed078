package session

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/roach88/docsession/internal/ir"
)

// ChangeEntry is one operation needed to bring the server in line with a
// session's in-memory state.
type ChangeEntry struct {
	Handle *Handle
	Kind   ChangeKind

	// Body is the serialized entity for Created and Modified entries.
	Body ir.IRObject

	snapshot []byte
}

// ChangeTracker records the handles of a session in attach order.
//
// Tracking is purely observational: nothing is serialized or compared
// until ComputeDiff.
type ChangeTracker struct {
	handles []*Handle
}

// NewChangeTracker creates an empty tracker.
func NewChangeTracker() *ChangeTracker {
	return &ChangeTracker{}
}

// Track records h with the given kind. A handle tracked for the first time
// is appended to the attach order; tracking it again only updates its kind.
// Modified is not a trackable kind.
func (t *ChangeTracker) Track(h *Handle, kind ChangeKind) {
	if kind == Modified {
		kind = Unchanged
	}
	h.kind = kind
	if !slices.Contains(t.handles, h) {
		t.handles = append(t.handles, h)
	}
}

// SnapshotAtAttach stores body's canonical form as h's baseline.
func (t *ChangeTracker) SnapshotAtAttach(h *Handle, body ir.IRObject) error {
	snap, err := ir.MarshalCanonical(body)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", h.id, err)
	}
	h.snapshot = snap
	return nil
}

// Forget stops tracking h.
func (t *ChangeTracker) Forget(h *Handle) {
	t.handles = slices.DeleteFunc(t.handles, func(x *Handle) bool { return x == h })
}

// Handles returns the tracked handles in attach order.
func (t *ChangeTracker) Handles() []*Handle {
	return slices.Clone(t.handles)
}

// Len returns the number of tracked handles.
func (t *ChangeTracker) Len() int {
	return len(t.handles)
}

// Clear stops tracking every handle.
func (t *ChangeTracker) Clear() {
	t.handles = nil
}

// ComputeDiff returns, in attach order, the minimal operations that bring
// the server in line with the tracked entities:
//
//   - Created handles produce a Created entry.
//   - Deleted handles produce a Deleted entry, unless they were never
//     persisted, in which case they produce nothing.
//   - Other handles produce a Modified entry when their serialized state
//     differs from their snapshot, and nothing otherwise.
//
// ComputeDiff does not change any handle.
func (t *ChangeTracker) ComputeDiff() ([]ChangeEntry, error) {
	var entries []ChangeEntry
	for _, h := range t.handles {
		switch h.kind {
		case Deleted:
			if h.persisted {
				entries = append(entries, ChangeEntry{Handle: h, Kind: Deleted})
			}
		case Created:
			body, snap, err := serializeHandle(h)
			if err != nil {
				return nil, err
			}
			entries = append(entries, ChangeEntry{Handle: h, Kind: Created, Body: body, snapshot: snap})
		default:
			body, snap, err := serializeHandle(h)
			if err != nil {
				return nil, err
			}
			if !bytes.Equal(snap, h.snapshot) {
				entries = append(entries, ChangeEntry{Handle: h, Kind: Modified, Body: body, snapshot: snap})
			}
		}
	}
	return entries, nil
}

// cancelled returns handles that were created and deleted without ever
// being persisted.
func (t *ChangeTracker) cancelled() []*Handle {
	var out []*Handle
	for _, h := range t.handles {
		if h.kind == Deleted && !h.persisted {
			out = append(out, h)
		}
	}
	return out
}

// serializeHandle serializes h's entity and its canonical form.
func serializeHandle(h *Handle) (ir.IRObject, []byte, error) {
	body, err := h.shape.serialize(h.entity)
	if err != nil {
		return nil, nil, fmt.Errorf("serialize %s: %w", describeHandle(h), err)
	}
	if body == nil {
		body = ir.IRObject{}
	}
	snap, err := ir.MarshalCanonical(body)
	if err != nil {
		return nil, nil, fmt.Errorf("serialize %s: %w", describeHandle(h), err)
	}
	return body, snap, nil
}

func describeHandle(h *Handle) string {
	if h.id != "" {
		return h.id
	}
	return "new " + h.collection + " document"
}
