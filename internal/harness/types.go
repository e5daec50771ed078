package harness

// TraceEvent records the outcome of one step.
type TraceEvent struct {
	Step    int    `json:"step"`
	Session string `json:"session"`
	Op      string `json:"op"`

	// Query, Params and Ordering are the compiled query of a query step.
	Query  string         `json:"query,omitempty"`
	Params map[string]any `json:"params,omitempty"`

	// Ordering lists builder ordering keys as "<field> asc|desc".
	Ordering []string `json:"ordering,omitempty"`

	// Changes lists what a save_changes step sent, as "<Kind> <id>".
	Changes []string `json:"changes,omitempty"`

	// IDs are the document identifiers the step produced or touched.
	IDs []string `json:"ids,omitempty"`

	// Rows are projection results of a query step.
	Rows []any `json:"rows,omitempty"`

	// Error is the error code of a failed step.
	Error string `json:"error,omitempty"`

	// Requests is the session's request count after the step.
	Requests int `json:"requests"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors describes each failed expectation or assertion.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends a step event to the trace.
func (r *Result) AddEvent(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
