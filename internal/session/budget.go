package session

import (
	"fmt"

	"github.com/roach88/docsession/internal/ir"
)

// DefaultMaxRequestsPerSession is the default request budget of a session.
const DefaultMaxRequestsPerSession = 30

// requestBudget counts the requests a session sends and enforces a
// maximum. Runaway loops that load one document per iteration exhaust the
// budget instead of flooding the store.
type requestBudget struct {
	max     int // 0 means unlimited
	current int
}

func newRequestBudget(max int) *requestBudget {
	return &requestBudget{max: max}
}

// spend records one request. It returns REQUEST_LIMIT_EXCEEDED, without
// recording, once the budget is used up.
func (b *requestBudget) spend(sessionID string) error {
	if b.max > 0 && b.current >= b.max {
		return &ir.Error{
			Code:    ir.ErrCodeRequestLimit,
			Message: fmt.Sprintf("session exceeded %d requests", b.max),
			Details: map[string]string{"session": sessionID},
		}
	}
	b.current++
	return nil
}

// used returns the number of requests sent.
func (b *requestBudget) used() int {
	return b.current
}
