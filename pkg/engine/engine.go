package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/nodeforge/pkg/errs"
	"github.com/cuemby/nodeforge/pkg/limiter"
	"github.com/cuemby/nodeforge/pkg/log"
	"github.com/cuemby/nodeforge/pkg/registry"
	"github.com/cuemby/nodeforge/pkg/sandbox"
	"github.com/cuemby/nodeforge/pkg/types"
	"github.com/rs/zerolog"
)

// Metrics is the counter surface Execute reports to on start/end and on
// cancel; pkg/telemetry's Prometheus-backed sink implements this.
type Metrics interface {
	ExecutionStarted(tenantID, nodeType string)
	ExecutionEnded(tenantID, nodeType string, state types.SessionState, durationMS int64)
	SessionCancelled(executionID string)
	QuotaRejected(tenantID string)
}

type nopMetrics struct{}

func (nopMetrics) ExecutionStarted(string, string)                         {}
func (nopMetrics) ExecutionEnded(string, string, types.SessionState, int64) {}
func (nopMetrics) SessionCancelled(string)                                 {}
func (nopMetrics) QuotaRejected(string)                                    {}

// Defaults holds the runner-wide fallbacks applied when a request's
// security_context leaves a field unset.
type Defaults struct {
	// IsolationLevel is used when a request carries no isolation_level of
	// its own. Empty means types.IsolationInProcess.
	IsolationLevel types.IsolationLevel
	// SandboxUID/SandboxGID are merged into a request's SecurityContext
	// when it does not set them (both zero), so an operator-wide privilege
	// drop applies even to requests that never mention it themselves.
	SandboxUID int
	SandboxGID int
}

// Engine is the Execution Engine. One Engine serves every tenant and node
// type the runner is configured for.
type Engine struct {
	registry *registry.Registry
	limiter  *limiter.Limiter
	backends sandbox.Set
	metrics  Metrics
	defaults Defaults

	clock types.Clock

	mu        sync.RWMutex
	sessions  map[string]*types.ExecutionSession
	cancelFns map[string]context.CancelFunc
}

// New constructs an Engine. metrics may be nil, in which case counters are
// discarded.
func New(reg *registry.Registry, lim *limiter.Limiter, backends sandbox.Set, metrics Metrics, defaults Defaults) *Engine {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if defaults.IsolationLevel == "" {
		defaults.IsolationLevel = types.IsolationInProcess
	}
	return &Engine{
		registry:  reg,
		limiter:   lim,
		backends:  backends,
		metrics:   metrics,
		defaults:  defaults,
		clock:     time.Now,
		sessions:  make(map[string]*types.ExecutionSession),
		cancelFns: make(map[string]context.CancelFunc),
	}
}

// SetClock overrides the engine's time source; tests use this to drive
// deadline math without wall-clock sleeps. Passing nil restores time.Now.
func (e *Engine) SetClock(clock types.Clock) {
	if clock == nil {
		clock = time.Now
	}
	e.clock = clock
}

// Execute runs req to completion and returns exactly one terminal result.
// It never returns an error and never panics across its own boundary: any
// failure at any stage is normalized into a failed/timed_out/cancelled
// ExecutionResult. The admission token acquired from the Resource Limiter
// is always released before Execute returns.
func (e *Engine) Execute(ctx context.Context, req types.ExecutionRequest) (result types.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = failureResult(errs.New(errs.SandboxCrash, "engine", "panic during execution", nil))
		}
	}()

	logger := log.WithExecutionID(req.ExecutionID).With().Str("tenant_id", req.TenantID).Logger()

	tok, err := e.limiter.Admit(req.TenantID, req.RuntimeConfig)
	if err != nil {
		te := errs.Normalize("engine", err)
		logger.Warn().Str("error_code", string(te.Kind)).Msg("admission rejected")
		if te.Kind == errs.QuotaExceeded {
			e.metrics.QuotaRejected(req.TenantID)
		}
		return failureResult(te)
	}
	defer e.limiter.Release(tok)

	deadline := e.clock().Add(time.Duration(req.RuntimeConfig.TimeoutMS) * time.Millisecond)
	sessionCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	session := &types.ExecutionSession{
		ExecutionID: req.ExecutionID,
		TenantID:    req.TenantID,
		State:       types.SessionStateAdmitted,
		StartTime:   e.clock(),
		Cancel:      cancel,
	}
	e.register(session, cancel)
	defer e.unregister(req.ExecutionID)

	e.metrics.ExecutionStarted(req.TenantID, req.NodeType)

	result = e.run(sessionCtx, session, req, deadline, logger)

	e.mu.Lock()
	session.EndTime = e.clock()
	e.mu.Unlock()
	e.metrics.ExecutionEnded(req.TenantID, req.NodeType, session.State, session.EndTime.Sub(session.StartTime).Milliseconds())

	if err := e.limiter.Observe(req.TenantID, result.Metrics); err != nil {
		logger.Debug().Err(err).Msg("tenant network quota window exhausted after execution")
	}

	return result
}

func (e *Engine) run(ctx context.Context, session *types.ExecutionSession, req types.ExecutionRequest, deadline time.Time, logger zerolog.Logger) types.ExecutionResult {
	impl, err := e.registry.Lookup(req.NodeType, req.NodeVersion)
	if err != nil {
		return e.fail(session, errs.Normalize("engine", err))
	}

	sctx := types.SecurityContext{}
	if req.SecurityContext != nil {
		sctx = *req.SecurityContext
	}
	level := sctx.IsolationLevel
	if level == "" {
		level = e.defaults.IsolationLevel
	}
	if sctx.SandboxUID == 0 && sctx.SandboxGID == 0 {
		sctx.SandboxUID = e.defaults.SandboxUID
		sctx.SandboxGID = e.defaults.SandboxGID
	}

	backend, resolvedLevel, err := e.backends.Select(level, sctx.AllowFallback)
	if err != nil {
		return e.fail(session, errs.Normalize("engine", err))
	}
	if resolvedLevel != level {
		logger.Info().Str("requested", string(level)).Str("resolved", string(resolvedLevel)).Msg("isolation level fell back")
	}

	e.setState(session, types.SessionStatePreparing)
	handle, err := backend.Prepare(ctx, impl, req, sctx)
	if err != nil {
		return e.fail(session, errs.Normalize("engine", err))
	}
	session.BackendHandle = handle

	e.setState(session, types.SessionStateRunning)

	partial, runErr := backend.Run(ctx, handle, deadline, ctx.Done())

	metrics := backend.CollectMetrics(handle)
	if disposeErr := backend.Dispose(handle); disposeErr != nil {
		logger.Warn().Err(disposeErr).Msg("backend dispose failed")
	}

	if runErr == nil {
		e.setState(session, types.SessionStateSucceeded)
		return types.ExecutionResult{
			Success:    true,
			OutputData: partial.OutputData,
			Metrics:    metrics,
			Logs:       partial.Logs,
		}
	}

	te := errs.Normalize("engine", runErr)
	if te.Kind == errs.Cancelled && ctx.Err() == context.DeadlineExceeded {
		// The backend's own cancel/timer race landed on its cancel branch,
		// but the context shows the deadline elapsed first, not an explicit
		// Cancel() call — the deadline is the true cause.
		te = errs.NewTimeout("engine", "deadline exceeded", req.RuntimeConfig.FinalAttempt)
	}
	switch te.Kind {
	case errs.Cancelled:
		e.setState(session, types.SessionStateCancelled)
		e.metrics.SessionCancelled(session.ExecutionID)
		return types.ExecutionResult{
			Success:      false,
			ErrorMessage: te.Message,
			ErrorCode:    string(te.Kind),
			Retryable:    false,
			Metrics:      metrics,
			Logs:         partial.Logs,
		}
	case errs.Timeout:
		e.setState(session, types.SessionStateTimedOut)
		return types.ExecutionResult{
			Success:      false,
			ErrorMessage: te.Message,
			ErrorCode:    string(te.Kind),
			Retryable:    te.Retryable && !req.RuntimeConfig.FinalAttempt,
			Metrics:      metrics,
			Logs:         partial.Logs,
		}
	default:
		e.setState(session, types.SessionStateFailed)
		return types.ExecutionResult{
			Success:      false,
			ErrorMessage: te.Message,
			ErrorCode:    string(te.Kind),
			Retryable:    te.Retryable && !req.RuntimeConfig.FinalAttempt,
			Metrics:      metrics,
			Logs:         partial.Logs,
		}
	}
}

func (e *Engine) fail(session *types.ExecutionSession, te *errs.Error) types.ExecutionResult {
	e.setState(session, types.SessionStateFailed)
	return failureResult(te)
}

func failureResult(te *errs.Error) types.ExecutionResult {
	return types.ExecutionResult{
		Success:      false,
		ErrorMessage: te.Message,
		ErrorCode:    string(te.Kind),
		Retryable:    te.Retryable,
	}
}

// Cancel requests cancellation of a running execution. It is idempotent:
// cancelling an execution that has already reached a terminal state (or
// was never known to this engine) still returns ack=true, per the public
// contract's "returns successfully even if the session already completed".
func (e *Engine) Cancel(executionID string, reason string) (ack bool, err error) {
	e.mu.RLock()
	cancel, ok := e.cancelFns[executionID]
	e.mu.RUnlock()
	if ok {
		log.WithExecutionID(executionID).Info().Str("reason", reason).Msg("cancellation requested")
		cancel()
	}
	return true, nil
}

// ActiveSessions returns a point-in-time snapshot of every session this
// engine currently tracks, safe to range over concurrently with further
// Execute/Cancel calls.
func (e *Engine) ActiveSessions() []types.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]types.Snapshot, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s.ToSnapshot())
	}
	return out
}

func (e *Engine) register(session *types.ExecutionSession, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[session.ExecutionID] = session
	e.cancelFns[session.ExecutionID] = cancel
}

func (e *Engine) unregister(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, executionID)
	delete(e.cancelFns, executionID)
}

func (e *Engine) setState(session *types.ExecutionSession, state types.SessionState) {
	e.mu.Lock()
	session.State = state
	e.mu.Unlock()
}
