package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	a := New(DefaultConfig())
	v := a.Record(Violation{ExecutionID: "exec-1", Type: "policy_deny", Severity: SeverityHigh, Blocked: true})
	assert.NotEmpty(t, v.ID)
	assert.False(t, v.RecordedAt.IsZero())
}

func TestRecordEvictsOldestBeyondMaxEvents(t *testing.T) {
	a := New(Config{MaxEvents: 2, DefaultRedactionMode: RedactionMask})
	a.Record(Violation{ExecutionID: "e1", Type: "t"})
	a.Record(Violation{ExecutionID: "e2", Type: "t"})
	a.Record(Violation{ExecutionID: "e3", Type: "t"})

	events := a.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "e2", events[0].ExecutionID)
	assert.Equal(t, "e3", events[1].ExecutionID)
}

func TestEventsForExecutionFilters(t *testing.T) {
	a := New(DefaultConfig())
	a.Record(Violation{ExecutionID: "e1", Type: "t"})
	a.Record(Violation{ExecutionID: "e2", Type: "t"})
	a.Record(Violation{ExecutionID: "e1", Type: "t2"})

	filtered := a.EventsForExecution("e1")
	assert.Len(t, filtered, 2)
}

func TestRedactMask(t *testing.T) {
	a := New(DefaultConfig())
	out := a.Redact("ssn is 123-45-6789 ok", []string{"123-45-6789"}, RedactionMask)
	assert.Equal(t, "ssn is *********** ok", out)
}

func TestRedactRemove(t *testing.T) {
	a := New(DefaultConfig())
	out := a.Redact("email: jane@example.com", []string{"jane@example.com"}, RedactionRemove)
	assert.Equal(t, "email: [REDACTED]", out)
}

func TestRedactHashIsDeterministicAndNotReversible(t *testing.T) {
	a := New(DefaultConfig())
	out1 := a.Redact("token abc123", []string{"abc123"}, RedactionHash)
	out2 := a.Redact("token abc123", []string{"abc123"}, RedactionHash)
	assert.Equal(t, out1, out2)
	assert.NotContains(t, out1, "abc123")
}

func TestRedactDefaultsToConfiguredMode(t *testing.T) {
	a := New(Config{MaxEvents: 10, DefaultRedactionMode: RedactionRemove})
	out := a.Redact("x secret y", []string{"secret"}, "")
	assert.Equal(t, "x [REDACTED] y", out)
}
