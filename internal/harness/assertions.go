package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/docsession/internal/ir"
	"github.com/roach88/docsession/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", event.Step, event.Session, event.Op)
			if len(event.IDs) > 0 {
				fmt.Fprintf(&buf, " %v", event.IDs)
			}
			if event.Error != "" {
				fmt.Fprintf(&buf, " error=%s", event.Error)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// AssertionContext provides what assertions read after the last step.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context

	// Requests holds each session's request count, by session name.
	Requests map[string]int
}

// EvaluateAssertions evaluates all assertions against the result and the
// store. Returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertDocument:
			err = requireStore(i, actx, func() error { return assertDocument(actx, assertion) })
		case AssertAbsent:
			err = requireStore(i, actx, func() error { return assertAbsent(actx, assertion) })
		case AssertCount:
			err = requireStore(i, actx, func() error { return assertCount(actx, assertion) })
		case AssertRequests:
			err = assertRequests(result.Trace, actx, assertion)
		case AssertStepCount:
			err = assertStepCount(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func requireStore(i int, actx *AssertionContext, fn func() error) error {
	if actx == nil || actx.Store == nil {
		return fmt.Errorf("assertion[%d]: requires a store", i)
	}
	return fn()
}

// assertDocument checks that a stored document holds the expected fields.
func assertDocument(actx *AssertionContext, a Assertion) error {
	doc, err := actx.Store.Fetch(actx.Ctx, a.ID)
	if ir.IsNotFound(err) {
		return &AssertionError{
			Type:     AssertDocument,
			Expected: fmt.Sprintf("document %s", a.ID),
			Actual:   "document not found",
		}
	}
	if err != nil {
		return fmt.Errorf("fetch %s: %w", a.ID, err)
	}
	if msg := matchBody(doc.Body, a.Expect); msg != "" {
		return &AssertionError{
			Type:     AssertDocument,
			Expected: fmt.Sprintf("document %s with %v", a.ID, a.Expect),
			Actual:   msg,
		}
	}
	return nil
}

// assertAbsent checks that a document does not exist.
func assertAbsent(actx *AssertionContext, a Assertion) error {
	doc, err := actx.Store.Fetch(actx.Ctx, a.ID)
	if ir.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch %s: %w", a.ID, err)
	}
	return &AssertionError{
		Type:     AssertAbsent,
		Expected: fmt.Sprintf("no document %s", a.ID),
		Actual:   fmt.Sprintf("found revision %s", doc.Revision),
	}
}

// assertCount checks the number of documents in a collection.
func assertCount(actx *AssertionContext, a Assertion) error {
	n, err := actx.Store.Count(actx.Ctx, a.Collection)
	if err != nil {
		return fmt.Errorf("count %s: %w", a.Collection, err)
	}
	if n != int64(a.Count) {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d documents in %s", a.Count, a.Collection),
			Actual:   fmt.Sprintf("%d documents", n),
		}
	}
	return nil
}

// assertRequests checks how many requests a session sent in total.
func assertRequests(trace []TraceEvent, actx *AssertionContext, a Assertion) error {
	name := a.Session
	if name == "" {
		name = DefaultSession
	}
	var got int
	if actx != nil {
		got = actx.Requests[name]
	}
	if got != a.Count {
		return &AssertionError{
			Type:     AssertRequests,
			Expected: fmt.Sprintf("%d requests from session %s", a.Count, name),
			Actual:   fmt.Sprintf("%d requests", got),
			Trace:    trace,
		}
	}
	return nil
}

// assertStepCount checks how many steps of an op succeeded.
func assertStepCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op == a.Op && event.Error == "" {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertStepCount,
			Expected: fmt.Sprintf("%d successful %s steps", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}
