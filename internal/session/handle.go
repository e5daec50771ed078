package session

// ChangeKind is the kind of change a handle represents.
type ChangeKind int

const (
	// Unchanged is a persisted document whose state matches its snapshot.
	Unchanged ChangeKind = iota
	// Created is a document stored in this session and never committed.
	Created
	// Modified is a persisted document whose state differs from its snapshot.
	Modified
	// Deleted is a document marked for deletion.
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Unchanged:
		return "Unchanged"
	case Created:
		return "Created"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// Handle is a session's record of one document: its identifier, the entity
// holding its state, and the revision it was read or written at.
//
// A Handle belongs to exactly one session. Loading the same id in two
// sessions produces two handles and two entities.
type Handle struct {
	id         string
	collection string
	entity     any
	revision   string
	shape      entityShape

	// kind is the tracked kind: Created, Unchanged or Deleted. Modified is
	// never stored; ComputeDiff derives it from the snapshot.
	kind ChangeKind

	// persisted reports whether the server has the document.
	persisted bool

	// snapshot is the canonical JSON body at attach or last commit.
	snapshot []byte
}

// ID returns the document identifier, or "" while the server has not yet
// assigned one.
func (h *Handle) ID() string { return h.id }

// Collection returns the collection the document belongs to.
func (h *Handle) Collection() string { return h.collection }

// Entity returns the tracked entity pointer. It is nil for documents
// deleted by id without being loaded.
func (h *Handle) Entity() any { return h.entity }

// Revision returns the revision the document was read or last written at.
func (h *Handle) Revision() string { return h.revision }

// Kind returns the tracked kind. A modified document reports Unchanged
// here; use Advanced.WhatChanged to see modifications.
func (h *Handle) Kind() ChangeKind { return h.kind }

// Persisted reports whether the document exists on the server as far as
// this session knows.
func (h *Handle) Persisted() bool { return h.persisted }
