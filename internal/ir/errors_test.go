package ir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := NewNotFoundError("users/1-A")
	assert.Equal(t, "NOT_FOUND: document does not exist (id=users/1-A)", err.Error())

	wrapped := NewTransportError("submit", errors.New("connection reset"))
	assert.Equal(t, "TRANSPORT_FAILURE: submit failed: connection reset", wrapped.Error())
}

func TestErrorClassificationThroughWrapping(t *testing.T) {
	err := fmt.Errorf("save changes: %w", NewConcurrencyError("users/1-A", "A:1", "A:2"))

	assert.True(t, IsConcurrencyConflict(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, ErrCodeConcurrencyConflict, CodeOf(err))

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, "A:1", e.Details["expected"])
	assert.Equal(t, "A:2", e.Details["actual"])
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewTransportError("fetch", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsTransportFailure(err))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.False(t, HasCode(nil, ErrCodeNotFound))
}

func TestHelpersMatchCodes(t *testing.T) {
	assert.True(t, IsMissingParameter(NewMissingParameterError("name")))
	assert.True(t, IsMalformedQuery(Errorf(ErrCodeMalformedQuery, "bad")))
	assert.True(t, IsConflictingIdentity(Errorf(ErrCodeConflictingIdentity, "dup")))
	assert.True(t, IsQueryFailed(Errorf(ErrCodeQueryFailed, "no such table")))
	assert.False(t, IsTransportFailure(Errorf(ErrCodeQueryFailed, "no such table")))
}
