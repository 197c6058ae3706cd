package inprocess

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/nodeforge/pkg/errs"
	"github.com/cuemby/nodeforge/pkg/registry"
	"github.com/cuemby/nodeforge/pkg/sandbox"
	"github.com/cuemby/nodeforge/pkg/types"
	"github.com/dop251/goja"
)

// Handle is the types.BackendHandle returned by Prepare. It owns the goja
// runtime (when the implementation is script-based) and the bookkeeping
// needed to report metrics and logs after Run returns.
type Handle struct {
	impl registry.Implementation
	req  types.ExecutionRequest
	sctx types.SecurityContext
	host registry.HostAPI

	vm        *goja.Runtime
	startedAt time.Time
	endedAt   time.Time

	mu   sync.Mutex
	logs []types.LogEntry
	net  int64
}

func (*Handle) IsolationLevel() types.IsolationLevel { return types.IsolationInProcess }

func (h *Handle) appendLog(level, text string) {
	h.mu.Lock()
	h.logs = append(h.logs, types.LogEntry{Timestamp: time.Now(), Level: level, Text: text})
	h.mu.Unlock()
}

// Host is the capability surface a running node sees; mediated by
// whatever policy/auditor wiring NewHost closes over.
type Host interface {
	registry.HostAPI
}

// Backend implements sandbox.Backend for JavaScript (and native Go) node
// implementations run in-process. No file system, no child processes —
// only the logger and fetch capabilities injected below.
type Backend struct {
	NewHost func(req types.ExecutionRequest) Host
}

// New constructs an in-process Backend. newHost builds the
// policy/auditor-mediated capability surface for one request; pass nil to
// use a no-op host that rejects fetch calls.
func New(newHost func(req types.ExecutionRequest) Host) *Backend {
	return &Backend{NewHost: newHost}
}

var _ sandbox.Backend = (*Backend)(nil)

func (b *Backend) Prepare(ctx context.Context, impl registry.Implementation, req types.ExecutionRequest, sctx types.SecurityContext) (types.BackendHandle, error) {
	h := &Handle{impl: impl, req: req, sctx: sctx}
	if b.NewHost != nil {
		h.host = b.NewHost(req)
	} else {
		h.host = noopHost{}
	}

	if impl.Native == nil {
		vm := goja.New()
		if err := injectCapabilities(vm, h); err != nil {
			return nil, errs.New(errs.SandboxCrash, "inprocess", "capability injection failed", err)
		}
		if err := vm.Set("input", string(req.InputData)); err != nil {
			return nil, errs.New(errs.SandboxCrash, "inprocess", "capability injection failed", err)
		}
		if _, err := vm.RunString(impl.Script); err != nil {
			return nil, errs.New(errs.ParseError, "inprocess", "script failed to compile", err)
		}
		h.vm = vm
	}

	return h, nil
}

func (b *Backend) Run(ctx context.Context, handle types.BackendHandle, deadline time.Time, cancel <-chan struct{}) (sandbox.PartialResult, error) {
	h, ok := handle.(*Handle)
	if !ok {
		return sandbox.PartialResult{}, errs.New(errs.Unknown, "inprocess", "handle type mismatch", nil)
	}
	h.startedAt = time.Now()
	defer func() { h.endedAt = time.Now() }()

	type outcome struct {
		output []byte
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errs.New(errs.SandboxCrash, "inprocess", fmt.Sprintf("sandbox panic: %v", r), nil)}
			}
		}()
		if h.impl.Native != nil {
			out, err := h.impl.Native(ctx, h.req, handleHost{HostAPI: h.host, h: h})
			done <- outcome{output: out, err: err}
			return
		}
		v, err := h.vm.RunString("main(input)")
		if err != nil {
			done <- outcome{err: err}
			return
		}
		done <- outcome{output: []byte(v.String())}
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err != nil {
			return sandbox.PartialResult{Logs: h.snapshotLogs()}, errs.Normalize("inprocess", o.err)
		}
		return sandbox.PartialResult{OutputData: o.output, Logs: h.snapshotLogs()}, nil
	case <-cancel:
		if h.vm != nil {
			h.vm.Interrupt("cancelled")
		}
		return sandbox.PartialResult{Logs: h.snapshotLogs()}, errs.New(errs.Cancelled, "inprocess", "execution cancelled", nil)
	case <-timer.C:
		if h.vm != nil {
			h.vm.Interrupt("deadline exceeded")
		}
		return sandbox.PartialResult{Logs: h.snapshotLogs()}, errs.NewTimeout("inprocess", "deadline exceeded", false)
	}
}

func (h *Handle) snapshotLogs() []types.LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.LogEntry, len(h.logs))
	copy(out, h.logs)
	return out
}

func (b *Backend) CollectMetrics(handle types.BackendHandle) types.ExecutionMetrics {
	h, ok := handle.(*Handle)
	if !ok {
		return types.ExecutionMetrics{}
	}
	h.mu.Lock()
	net := h.net
	h.mu.Unlock()

	end := h.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	return types.ExecutionMetrics{
		ExecutionTimeMS: end.Sub(h.startedAt).Milliseconds(),
		NetworkRequests: net,
	}
}

func (b *Backend) Dispose(handle types.BackendHandle) error {
	h, ok := handle.(*Handle)
	if !ok {
		return nil
	}
	h.vm = nil
	return nil
}

// injectCapabilities exposes the restricted global surface to vm: a
// logger and a fetch function bound to h.host, nothing else. No require,
// no filesystem, no process control — the in-process backend is the most
// restricted of the four variants by design.
func injectCapabilities(vm *goja.Runtime, h *Handle) error {
	logFn := func(call goja.FunctionCall) goja.Value {
		text := ""
		if len(call.Arguments) > 0 {
			text = call.Arguments[0].String()
		}
		h.appendLog("info", text)
		return goja.Undefined()
	}
	if err := vm.Set("log", logFn); err != nil {
		return err
	}

	fetchFn := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.NewTypeError("fetch requires a url"))
		}
		url := call.Arguments[0].String()
		method := "GET"
		if len(call.Arguments) > 1 {
			method = call.Arguments[1].String()
		}
		body, status, err := h.host.Fetch(context.Background(), method, url, nil)
		h.mu.Lock()
		h.net++
		h.mu.Unlock()
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		result := vm.NewObject()
		_ = result.Set("status", status)
		_ = result.Set("body", string(body))
		return result
	}
	return vm.Set("fetch", fetchFn)
}

// handleHost is the HostAPI a native node receives: Log goes into the
// handle's ordered log and Fetch is counted, as for scripts.
type handleHost struct {
	registry.HostAPI
	h *Handle
}

func (c handleHost) Log(level, text string) { c.h.appendLog(level, text) }

func (c handleHost) Fetch(ctx context.Context, method, url string, body []byte) ([]byte, int, error) {
	c.h.mu.Lock()
	c.h.net++
	c.h.mu.Unlock()
	return c.HostAPI.Fetch(ctx, method, url, body)
}

type noopHost struct{}

func (noopHost) Fetch(context.Context, string, string, []byte) ([]byte, int, error) {
	return nil, 0, fmt.Errorf("fetch capability not configured")
}
func (noopHost) Log(level, text string) {}
