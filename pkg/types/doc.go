/*
Package types defines the core data structures shared across the node
runner: execution requests and results, the in-memory session record,
and the small policy/security value types every other package depends
on.

# Core types

Request/Result:
  - ExecutionRequest: one step-execution request pulled off the queue
  - ExecutionResult: the single terminal result for a request
  - ExecutionMetrics: the counters attached to a result
  - LogEntry: one ordered log line captured during a run

Session:
  - ExecutionSession: the runner-owned, in-memory record of one
    execution from admission to terminal state
  - SessionState: admitted, preparing, running, or one of the terminal
    states

Policy and security:
  - SecurityContext: isolation level, network policy document, env
    whitelist, and resource limits attached to a request
  - RuntimeConfig: timeout, memory cap, retry hints, priority
  - NodeType: a node-type identifier plus version

# Design patterns

Enums are typed strings, matching the rest of this module:

	type SessionState string
	const (
		SessionStateAdmitted SessionState = "admitted"
		SessionStateRunning  SessionState = "running"
	)

Optional fields use pointers (nil = absent): *SecurityContext,
*NetworkPolicyDoc. Everything here is JSON-serializable since requests and
results cross the queue boundary as JSON.

# Thread safety

Plain data: safe to read concurrently once constructed. ExecutionSession
is mutated only by its owning execution task and the cancellation
controller (see pkg/engine) and must be copied before being handed to
any other caller.
*/
package types
