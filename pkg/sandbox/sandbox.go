package sandbox

import (
	"context"
	"time"

	"github.com/cuemby/nodeforge/pkg/errs"
	"github.com/cuemby/nodeforge/pkg/registry"
	"github.com/cuemby/nodeforge/pkg/types"
)

// PartialResult is what Run returns on success: the node's output plus
// whatever logs it produced, in arrival order. It is "partial" because the
// engine still attaches metrics before it becomes an ExecutionResult. The
// output is not validated against any schema.
type PartialResult struct {
	OutputData []byte
	Logs       []types.LogEntry
}

// Backend is the single contract all four isolation variants implement.
type Backend interface {
	// Prepare acquires whatever resource backs one execution (a goja VM, a
	// containerd container, a Lima VM, a wazero module instance) and
	// returns a handle owned exclusively by the caller's session.
	Prepare(ctx context.Context, impl registry.Implementation, req types.ExecutionRequest, sctx types.SecurityContext) (types.BackendHandle, error)
	// Run executes the prepared handle until it finishes, the deadline
	// passes, or cancel is closed — whichever comes first.
	Run(ctx context.Context, handle types.BackendHandle, deadline time.Time, cancel <-chan struct{}) (PartialResult, error)
	// CollectMetrics reads whatever resource usage the handle can report.
	// Called after Run returns, before Dispose.
	CollectMetrics(handle types.BackendHandle) types.ExecutionMetrics
	// Dispose releases the handle. Safe to call after a failed Prepare
	// returned a partial handle, and idempotent where the backend can make
	// it so; callers must still only call it once.
	Dispose(handle types.BackendHandle) error
}

// Set is the table of available backends keyed by isolation level, plus
// the availability flags used by Select.
type Set struct {
	Backends       map[types.IsolationLevel]Backend
	MicroVMEnabled bool
}

// Select implements the backend selection rule: the request's
// isolation_level picks the backend deterministically. If it is
// unavailable (not registered, or micro-VM disabled) and allow_fallback is
// not set, selection fails with ISOLATION_UNAVAILABLE. If allow_fallback is
// set, micro-VM degrades to the process backend — this is the only
// fallback path; no other pair silently substitutes for another.
func (s Set) Select(level types.IsolationLevel, allowFallback bool) (Backend, types.IsolationLevel, error) {
	if level == types.IsolationMicroVM && !s.MicroVMEnabled {
		if allowFallback {
			if b, ok := s.Backends[types.IsolationProcess]; ok {
				return b, types.IsolationProcess, nil
			}
		}
		return nil, "", errs.New(errs.IsolationUnavailable, "sandbox", "micro-VM driver unavailable", nil)
	}

	b, ok := s.Backends[level]
	if !ok {
		return nil, "", errs.New(errs.IsolationUnavailable, "sandbox", "no backend registered for isolation level "+string(level), nil)
	}
	return b, level, nil
}
