package types

import (
	"context"
	"time"
)

// Clock is the seam the execution engine reads the current time through,
// so deadline math can be driven by a fake clock in tests instead of real
// wall-clock sleeps. time.Now satisfies this signature directly.
type Clock func() time.Time

// NodeType identifies a node implementation: a stable type string plus an
// integer version. Uniqueness is global within the runner's loaded
// registry at any point in time.
type NodeType struct {
	Type    string `json:"node_type"`
	Version int    `json:"node_version,omitempty"`
}

// IsolationLevel names one of the four mutually exclusive sandbox backends.
type IsolationLevel string

const (
	IsolationInProcess IsolationLevel = "in-process"
	IsolationProcess   IsolationLevel = "process"
	IsolationMicroVM   IsolationLevel = "microvm"
	IsolationWasm      IsolationLevel = "wasm"
)

// FirewallEffect is the outcome of one firewall rule match.
type FirewallEffect string

const (
	FirewallAllow FirewallEffect = "allow"
	FirewallDeny  FirewallEffect = "deny"
)

// FirewallRule is one priority-ordered allow/deny rule evaluated against an
// outbound request descriptor. Lower Priority is evaluated first; the first
// match wins.
type FirewallRule struct {
	Priority     int            `json:"priority" yaml:"priority"`
	DomainOrCIDR string         `json:"domain_or_cidr" yaml:"domain_or_cidr"`
	Port         int            `json:"port,omitempty" yaml:"port,omitempty"` // 0 means any port
	Effect       FirewallEffect `json:"effect" yaml:"effect"`
}

// NetworkPolicyDoc is the per-execution policy document compiled by
// pkg/policy into a decision function. It doubles as the on-disk shape
// for a runner-wide default policy file (see pkg/policy.LoadDocFromFile).
type NetworkPolicyDoc struct {
	AllowedDomains     []string       `json:"allowed_domains,omitempty" yaml:"allowed_domains,omitempty"`
	DeniedDomains      []string       `json:"denied_domains,omitempty" yaml:"denied_domains,omitempty"`
	AllowedCIDRs       []string       `json:"allowed_cidrs,omitempty" yaml:"allowed_cidrs,omitempty"`
	DeniedCIDRs        []string       `json:"denied_cidrs,omitempty" yaml:"denied_cidrs,omitempty"`
	AllowedPorts       []int          `json:"allowed_ports,omitempty" yaml:"allowed_ports,omitempty"`
	Rules              []FirewallRule `json:"rules,omitempty" yaml:"rules,omitempty"`
	BandwidthCapKBps   int            `json:"bandwidth_cap_kbps,omitempty" yaml:"bandwidth_cap_kbps,omitempty"`
	MaxConcurrentConns int            `json:"max_concurrent_conns,omitempty" yaml:"max_concurrent_conns,omitempty"`
}

// SecurityContext is the isolation and policy envelope attached to one
// execution request.
type SecurityContext struct {
	IsolationLevel IsolationLevel    `json:"isolation_level"`
	AllowFallback  bool              `json:"allow_fallback"`
	NetworkPolicy  *NetworkPolicyDoc `json:"network_policy,omitempty"`
	EnvWhitelist   []string          `json:"env_whitelist,omitempty"`
	MaxMemoryBytes int64             `json:"max_memory_bytes,omitempty"`
	SandboxUID     int               `json:"sandbox_uid,omitempty"`
	SandboxGID     int               `json:"sandbox_gid,omitempty"`
}

// RuntimeConfig carries the per-execution deadline, retry hints, and
// priority named in the request.
type RuntimeConfig struct {
	TimeoutMS      int64 `json:"timeout_ms"`
	MaxMemoryBytes int64 `json:"max_memory_bytes,omitempty"`
	Priority       int   `json:"priority,omitempty"` // 0-9, higher first-served
	FinalAttempt   bool  `json:"final_attempt,omitempty"`
}

// ExecutionRequest is immutable once received from the queue.
type ExecutionRequest struct {
	ExecutionID     string           `json:"execution_id"`
	StepID          string           `json:"step_id"`
	RunID           string           `json:"run_id"`
	TenantID        string           `json:"tenant_id"`
	NodeType        string           `json:"node_type"`
	NodeVersion     int              `json:"node_version,omitempty"`
	Parameters      map[string]any   `json:"parameters,omitempty"`
	InputData       []byte           `json:"input_data,omitempty"`
	InputEncoding   string           `json:"input_encoding,omitempty"`
	CredentialsRef  string           `json:"credentials_ref,omitempty"`
	SecurityContext *SecurityContext `json:"security_context,omitempty"`
	RuntimeConfig   RuntimeConfig    `json:"runtime_config"`
	ReplyTo         string           `json:"reply_to,omitempty"`
	RetryCount      int              `json:"retry_count,omitempty"`
}

// LogEntry is one line captured during a run, in arrival order.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Text      string    `json:"text"`
}

// ExecutionMetrics are the counters attached to every ExecutionResult.
type ExecutionMetrics struct {
	ExecutionTimeMS int64 `json:"execution_time_ms"`
	MemoryUsedBytes int64 `json:"memory_used_bytes"`
	CPUTimeMS       int64 `json:"cpu_time_ms"`
	NetworkRequests int64 `json:"network_requests"`
	BytesSent       int64 `json:"bytes_sent"`
	BytesReceived   int64 `json:"bytes_received"`
	FileOperations  int64 `json:"file_operations"`
}

// ExecutionResult is the single terminal result for one execution.
type ExecutionResult struct {
	Success      bool             `json:"success"`
	OutputData   []byte           `json:"output_data,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	ErrorCode    string           `json:"error_code,omitempty"`
	Retryable    bool             `json:"retryable"`
	Metrics      ExecutionMetrics `json:"metrics"`
	Logs         []LogEntry       `json:"logs,omitempty"`
}

// SessionState is one state in the execution engine's state machine.
type SessionState string

const (
	SessionStateAdmitted  SessionState = "admitted"
	SessionStatePreparing SessionState = "preparing"
	SessionStateRunning   SessionState = "running"
	SessionStateSucceeded SessionState = "succeeded"
	SessionStateFailed    SessionState = "failed"
	SessionStateCancelled SessionState = "cancelled"
	SessionStateTimedOut  SessionState = "timed_out"
)

// IsTerminal reports whether s is one of the four terminal states.
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionStateSucceeded, SessionStateFailed, SessionStateCancelled, SessionStateTimedOut:
		return true
	default:
		return false
	}
}

// BackendHandle is the opaque resource a sandbox backend hands back from
// Prepare; it is owned exclusively by the session that prepared it.
type BackendHandle interface {
	// IsolationLevel reports which backend produced this handle.
	IsolationLevel() IsolationLevel
}

// ExecutionSession is the runner-owned, in-memory record of one execution.
// It is created on admission, mutated only by its owning execution task and
// the cancellation controller, and destroyed after terminal recording and
// handle release.
type ExecutionSession struct {
	ExecutionID   string
	TenantID      string
	State         SessionState
	StartTime     time.Time
	EndTime       time.Time
	BackendHandle BackendHandle
	Cancel        context.CancelFunc
}

// Snapshot is a point-in-time, read-only copy of a session, safe to hand to
// any caller concurrently.
type Snapshot struct {
	ExecutionID string
	TenantID    string
	State       SessionState
	StartTime   time.Time
	EndTime     time.Time
}

// ToSnapshot copies the fields of s that are safe to publish.
func (s *ExecutionSession) ToSnapshot() Snapshot {
	return Snapshot{
		ExecutionID: s.ExecutionID,
		TenantID:    s.TenantID,
		State:       s.State,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
	}
}
