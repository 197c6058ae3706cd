package audit

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/nodeforge/pkg/log"
)

// Severity classifies a recorded violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation records one policy decision against an outbound intent.
type Violation struct {
	ID          string
	ExecutionID string
	Type        string
	Severity    Severity
	Description string
	Details     map[string]string
	Blocked     bool
	RecordedAt  time.Time
}

// RedactionMode is one of the three PII handling strategies.
type RedactionMode string

const (
	RedactionMask   RedactionMode = "mask"
	RedactionRemove RedactionMode = "remove"
	RedactionHash   RedactionMode = "hash"
)

const removedToken = "[REDACTED]"

// Config configures the auditor's violation ring buffer and default PII
// handling.
type Config struct {
	MaxEvents           int
	DefaultRedactionMode RedactionMode
}

// DefaultConfig returns sensible defaults: a 1000-event ring buffer and
// mask as the default redaction mode.
func DefaultConfig() Config {
	return Config{MaxEvents: 1000, DefaultRedactionMode: RedactionMask}
}

// Auditor is the Security Auditor: a bounded, mutex-guarded ring buffer of
// recorded violations plus a PII redaction helper (Redact). Nothing in the
// runner calls Redact on log lines or output payloads; it is applied only
// where a caller invokes it.
type Auditor struct {
	cfg Config

	// OnViolation, if set, is called synchronously after every Record —
	// the hook pkg/telemetry uses to drive policy_violations_total without
	// this package importing a metrics client.
	OnViolation func(Violation)

	mu     sync.Mutex
	events []Violation
	seq    int
}

// New constructs an Auditor from cfg.
func New(cfg Config) *Auditor {
	return &Auditor{cfg: cfg}
}

// Record appends a violation to the ring buffer, evicting the oldest entry
// once MaxEvents is reached, and logs blocked violations at warn level.
func (a *Auditor) Record(v Violation) Violation {
	a.mu.Lock()
	a.seq++
	if v.ID == "" {
		v.ID = idFor(a.seq, v.ExecutionID)
	}
	if v.RecordedAt.IsZero() {
		v.RecordedAt = time.Now()
	}
	a.events = append(a.events, v)
	if len(a.events) > a.cfg.MaxEvents {
		a.events = a.events[len(a.events)-a.cfg.MaxEvents:]
	}
	a.mu.Unlock()

	logger := log.WithExecutionID(v.ExecutionID)
	if v.Blocked {
		logger.Warn().Str("type", v.Type).Str("severity", string(v.Severity)).Msg(v.Description)
	} else {
		logger.Debug().Str("type", v.Type).Str("severity", string(v.Severity)).Msg(v.Description)
	}
	if a.OnViolation != nil {
		a.OnViolation(v)
	}
	return v
}

// Events returns a copy of the currently retained violations.
func (a *Auditor) Events() []Violation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Violation, len(a.events))
	copy(out, a.events)
	return out
}

// EventsForExecution filters Events by execution ID.
func (a *Auditor) EventsForExecution(executionID string) []Violation {
	all := a.Events()
	out := make([]Violation, 0, len(all))
	for _, v := range all {
		if v.ExecutionID == executionID {
			out = append(out, v)
		}
	}
	return out
}

// Redact applies mode to text, treating pii as the set of substrings to
// redact. An unrecognized mode falls back to the auditor's default.
func (a *Auditor) Redact(text string, pii []string, mode RedactionMode) string {
	switch mode {
	case RedactionMask, RedactionRemove, RedactionHash:
	default:
		mode = a.cfg.DefaultRedactionMode
	}
	out := text
	for _, p := range pii {
		if p == "" {
			continue
		}
		var replacement string
		switch mode {
		case RedactionRemove:
			replacement = removedToken
		case RedactionHash:
			replacement = hashToken(p)
		default: // mask
			replacement = strings.Repeat("*", len(p))
		}
		out = strings.ReplaceAll(out, p, replacement)
	}
	return out
}

// hashToken replaces a PII value with a short, non-reversible digest,
// using a SHA-256 secret-derivation primitive rather than a reversible
// encryption (PII redaction must not be recoverable).
func hashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return "#" + base64.RawURLEncoding.EncodeToString(sum[:6])
}

func idFor(seq int, executionID string) string {
	sum := sha256.Sum256([]byte(executionID + ":" + time.Now().String() + string(rune(seq))))
	return base64.RawURLEncoding.EncodeToString(sum[:9])
}
