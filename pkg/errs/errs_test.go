package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryableByKind(t *testing.T) {
	tests := []struct {
		name      string
		kind      Kind
		retryable bool
	}{
		{"node not found", NodeNotFound, false},
		{"parse error", ParseError, false},
		{"policy deny", PolicyDeny, false},
		{"isolation unavailable", IsolationUnavailable, false},
		{"timeout", Timeout, true},
		{"sandbox crash", SandboxCrash, true},
		{"network error", NetworkError, true},
		{"validation error", ValidationError, false},
		{"cancelled", Cancelled, false},
		{"unknown", Unknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.kind, "test", "boom", nil)
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.Equal(t, tt.kind, e.Kind)
		})
	}
}

func TestNewQuotaExceeded(t *testing.T) {
	hard := NewQuotaExceeded("limiter", "tenant cap", true)
	assert.False(t, hard.Retryable)

	transient := NewQuotaExceeded("limiter", "concurrency window", false)
	assert.True(t, transient.Retryable)

	assert.Equal(t, QuotaExceeded, hard.Kind)
	assert.Equal(t, QuotaExceeded, transient.Kind)
}

func TestNewTimeout(t *testing.T) {
	retryable := NewTimeout("engine", "deadline", false)
	assert.True(t, retryable.Retryable)

	final := NewTimeout("engine", "deadline", true)
	assert.False(t, final.Retryable)
}

func TestNormalizeWrapsPlainError(t *testing.T) {
	plain := errors.New("boom")
	e := Normalize("backend", plain)
	assert.Equal(t, Unknown, e.Kind)
	assert.True(t, e.Retryable)
	assert.ErrorIs(t, e, plain)
}

func TestNormalizePassesThroughTaxonomyError(t *testing.T) {
	original := New(NodeNotFound, "registry", "no such node", nil)
	e := Normalize("engine", original)
	assert.Same(t, original, e)
}

func TestNormalizeNil(t *testing.T) {
	assert.Nil(t, Normalize("engine", nil))
}

func TestAs(t *testing.T) {
	original := New(PolicyDeny, "policy", "blocked", nil)
	wrapped := errors.New("context: " + original.Error())
	_, ok := As(wrapped)
	assert.False(t, ok, "plain wrapped string is not a taxonomy error")

	e, ok := As(original)
	assert.True(t, ok)
	assert.Equal(t, PolicyDeny, e.Kind)
}
