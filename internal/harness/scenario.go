package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of session calls against a fresh store,
// with per-step expectations and final assertions on stored documents.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is an optional CUE schema file, relative to the scenario file.
	Schema string `yaml:"schema,omitempty"`

	// Conventions override the default session conventions.
	Conventions *ConventionsSpec `yaml:"conventions,omitempty"`

	// Steps run in order. Each names the session it runs in; sessions are
	// opened on first use.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated against the store after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ConventionsSpec mirrors session.Conventions in YAML.
type ConventionsSpec struct {
	// Identity is "server" (default) or "uuid".
	Identity              string `yaml:"identity,omitempty"`
	MaxRequests           *int   `yaml:"max_requests,omitempty"`
	OptimisticConcurrency *bool  `yaml:"optimistic_concurrency,omitempty"`
}

// Step is one session call. Exactly one operation field is set.
type Step struct {
	// Session names the session the step runs in. Defaults to "main".
	Session string `yaml:"session,omitempty"`

	Store       *StoreStep  `yaml:"store,omitempty"`
	Load        *LoadStep   `yaml:"load,omitempty"`
	Modify      *ModifyStep `yaml:"modify,omitempty"`
	Delete      string      `yaml:"delete,omitempty"`
	DeleteID    string      `yaml:"delete_id,omitempty"`
	Query       *QueryStep  `yaml:"query,omitempty"`
	SaveChanges bool        `yaml:"save_changes,omitempty"`
	Close       bool        `yaml:"close,omitempty"`

	// Expect checks the step's outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// StoreStep stages a new document under a reference name.
type StoreStep struct {
	Ref        string         `yaml:"ref"`
	Collection string         `yaml:"collection"`
	ID         string         `yaml:"id,omitempty"`
	Body       map[string]any `yaml:"body"`
}

// LoadStep loads a document and binds it to a reference name.
type LoadStep struct {
	ID  string `yaml:"id"`
	Ref string `yaml:"ref,omitempty"`
}

// ModifyStep changes a referenced document in place.
type ModifyStep struct {
	Ref   string         `yaml:"ref"`
	Set   map[string]any `yaml:"set,omitempty"`
	Unset []string       `yaml:"unset,omitempty"`
}

// QueryStep runs raw query text or a builder call sequence.
type QueryStep struct {
	// Collection is required for builder queries.
	Collection string         `yaml:"collection,omitempty"`
	Text       string         `yaml:"text,omitempty"`
	Build      []BuildOp      `yaml:"build,omitempty"`
	Params     map[string]any `yaml:"params,omitempty"`

	// Ref binds the first result.
	Ref string `yaml:"ref,omitempty"`
}

// BuildOp is one fluent builder call.
type BuildOp struct {
	Op     string `yaml:"op"`
	Field  string `yaml:"field,omitempty"`
	Value  any    `yaml:"value,omitempty"`
	Values []any  `yaml:"values,omitempty"`
	N      int    `yaml:"n,omitempty"`
}

// Expect describes a step's expected outcome. Unset fields are not
// checked.
type Expect struct {
	// Error is the expected error code, e.g. CONCURRENCY_CONFLICT.
	Error string `yaml:"error,omitempty"`

	// Found is checked by load steps.
	Found *bool `yaml:"found,omitempty"`

	// Count is the number of query results.
	Count *int `yaml:"count,omitempty"`

	// IDs are the identifiers the step reports, in order.
	IDs []string `yaml:"ids,omitempty"`

	// Text is the compiled query text.
	Text string `yaml:"text,omitempty"`

	// Body is matched as a subset against a loaded document, or the
	// first query result.
	Body map[string]any `yaml:"body,omitempty"`

	// Requests is the session's request count after the step.
	Requests *int `yaml:"requests,omitempty"`
}

// Assertion validates the store after the last step.
type Assertion struct {
	// Type is one of document, absent, count, requests, step_count.
	Type string `yaml:"type"`

	ID         string         `yaml:"id,omitempty"`
	Expect     map[string]any `yaml:"expect,omitempty"`
	Collection string         `yaml:"collection,omitempty"`
	Session    string         `yaml:"session,omitempty"`
	Op         string         `yaml:"op,omitempty"`
	Count      int            `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertDocument  = "document"
	AssertAbsent    = "absent"
	AssertCount     = "count"
	AssertRequests  = "requests"
	AssertStepCount = "step_count"
)

// Step operation names, as recorded in traces.
const (
	OpStore       = "store"
	OpLoad        = "load"
	OpModify      = "modify"
	OpDelete      = "delete"
	OpDeleteID    = "delete_id"
	OpQuery       = "query"
	OpSaveChanges = "save_changes"
	OpClose       = "close"
)

// DefaultSession names the session of steps that do not set one.
const DefaultSession = "main"

// Op returns the step's operation name, or "" if none or several are set.
func (s Step) Op() string {
	var ops []string
	if s.Store != nil {
		ops = append(ops, OpStore)
	}
	if s.Load != nil {
		ops = append(ops, OpLoad)
	}
	if s.Modify != nil {
		ops = append(ops, OpModify)
	}
	if s.Delete != "" {
		ops = append(ops, OpDelete)
	}
	if s.DeleteID != "" {
		ops = append(ops, OpDeleteID)
	}
	if s.Query != nil {
		ops = append(ops, OpQuery)
	}
	if s.SaveChanges {
		ops = append(ops, OpSaveChanges)
	}
	if s.Close {
		ops = append(ops, OpClose)
	}
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

// SessionName returns the step's session name.
func (s Step) SessionName() string {
	if s.Session == "" {
		return DefaultSession
	}
	return s.Session
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected; the schema path is resolved relative to the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}
	if scenario.Schema != "" {
		if _, err := os.Stat(scenario.Schema); err != nil {
			return nil, fmt.Errorf("invalid scenario: schema file: %w", err)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if c := s.Conventions; c != nil {
		switch c.Identity {
		case "", "server", "uuid":
		default:
			return fmt.Errorf("conventions: unknown identity %q", c.Identity)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	switch step.Op() {
	case "":
		return fmt.Errorf("steps[%d]: exactly one operation is required", i)
	case OpStore:
		if step.Store.Ref == "" || step.Store.Collection == "" {
			return fmt.Errorf("steps[%d]: store requires ref and collection", i)
		}
	case OpLoad:
		if step.Load.ID == "" {
			return fmt.Errorf("steps[%d]: load requires id", i)
		}
	case OpModify:
		if step.Modify.Ref == "" {
			return fmt.Errorf("steps[%d]: modify requires ref", i)
		}
	case OpQuery:
		q := step.Query
		if (q.Text == "") == (q.Build == nil) {
			return fmt.Errorf("steps[%d]: query requires exactly one of text or build", i)
		}
		if q.Build != nil && q.Collection == "" {
			return fmt.Errorf("steps[%d]: builder query requires collection", i)
		}
		for j, op := range q.Build {
			if _, ok := buildOps[op.Op]; !ok {
				return fmt.Errorf("steps[%d].build[%d]: unknown op %q", i, j, op.Op)
			}
		}
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case AssertDocument:
		if a.ID == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: document requires id and expect", i)
		}
	case AssertAbsent:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: absent requires id", i)
		}
	case AssertCount:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: count requires collection", i)
		}
	case AssertRequests:
	case AssertStepCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: step_count requires op", i)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", i)
	}
	return nil
}
