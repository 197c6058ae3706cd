/*
Package engine implements the Execution Engine: the per-request state
machine that turns an admitted ExecutionRequest into exactly one terminal
ExecutionResult.

The session bookkeeping (a map keyed by execution ID plus a parallel map
of cancellation funcs, both guarded by one mutex, swept on completion) is
adapted from a running-containers-plus-cancelFns bookkeeping shape: the
same "register on start, look up by ID to cancel, delete on completion"
pattern used for running containers and their health-check goroutines,
generalized from container lifecycle to one sandboxed node execution.

States: admitted -> preparing -> running -> {succeeded, failed,
cancelled, timed_out}. Execute never panics across its own boundary and
always releases the admission token it was handed, on every exit path.
*/
package engine
