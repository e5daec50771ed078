package ir

// Document is a stored document as returned by the store: its identifier,
// the collection it belongs to, its current revision and its body.
//
// Projection results (grouped or select queries) have Projection set and
// may have an empty ID; they are never attached to a session.
type Document struct {
	ID         string   `json:"id,omitempty"`
	Collection string   `json:"collection,omitempty"`
	Revision   string   `json:"revision,omitempty"`
	Body       IRObject `json:"body"`
	Projection bool     `json:"projection,omitempty"`
}

// CommandKind is the kind of a write command in a batch.
type CommandKind int

const (
	// CommandPut creates or replaces a document.
	CommandPut CommandKind = iota
	// CommandDelete removes a document.
	CommandDelete
)

func (k CommandKind) String() string {
	switch k {
	case CommandPut:
		return "PUT"
	case CommandDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Command is one write operation in an atomic batch.
//
// A Put with an empty ID asks the store to assign an identity in the
// command's collection. A non-empty ExpectedRevision makes the write
// conditional on the stored revision matching it.
type Command struct {
	Kind             CommandKind `json:"kind"`
	ID               string      `json:"id,omitempty"`
	Collection       string      `json:"collection,omitempty"`
	Body             IRObject    `json:"body,omitempty"`
	ExpectedRevision string      `json:"expected_revision,omitempty"`
}

// CommandResult reports the outcome of one command, in batch order.
type CommandResult struct {
	ID       string `json:"id"`
	Revision string `json:"revision,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
}

// BatchResult is the store's response to an atomic batch.
type BatchResult struct {
	Results []CommandResult `json:"results"`
}

// OrderKey is one ordering key of a query.
type OrderKey struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending,omitempty"`
}

// CompiledQuery is the immutable product of query compilation: the query
// text, ordering keys applied after any ordering embedded in the text, and
// named parameter values referenced from the text as $name.
type CompiledQuery struct {
	Text       string         `json:"text"`
	Ordering   []OrderKey     `json:"ordering,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}
