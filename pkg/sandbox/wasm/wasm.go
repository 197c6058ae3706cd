package wasm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/nodeforge/pkg/errs"
	"github.com/cuemby/nodeforge/pkg/registry"
	"github.com/cuemby/nodeforge/pkg/sandbox"
	"github.com/cuemby/nodeforge/pkg/types"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Handle owns one compiled module instance and the bookkeeping needed to
// report metrics and logs after Run returns.
type Handle struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	module   api.Module
	host     registry.HostAPI
	input    []byte

	startedAt time.Time
	endedAt   time.Time

	mu       sync.Mutex
	logs     []types.LogEntry
	net      int64
	fetchErr error
}

func (*Handle) IsolationLevel() types.IsolationLevel { return types.IsolationWasm }

func (h *Handle) appendLog(level, text string) {
	h.mu.Lock()
	h.logs = append(h.logs, types.LogEntry{Timestamp: time.Now(), Level: level, Text: text})
	h.mu.Unlock()
}

// Host mirrors pkg/sandbox/inprocess.Host: the capability surface a
// running guest sees, mediated by whatever policy/auditor wiring NewHost
// closes over.
type Host interface {
	registry.HostAPI
}

// Backend implements sandbox.Backend by compiling and instantiating a
// wazero guest module per execution.
type Backend struct {
	NewHost func(req types.ExecutionRequest) Host
}

// New constructs a Backend. newHost builds the capability surface for
// one request; pass nil to use a no-op host that rejects fetch calls.
func New(newHost func(req types.ExecutionRequest) Host) *Backend {
	return &Backend{NewHost: newHost}
}

var _ sandbox.Backend = (*Backend)(nil)

func (b *Backend) Prepare(ctx context.Context, impl registry.Implementation, req types.ExecutionRequest, sctx types.SecurityContext) (types.BackendHandle, error) {
	if len(impl.WasmModule) == 0 {
		return nil, errs.New(errs.ParseError, "wasm", "implementation has no wasm module", nil)
	}

	h := &Handle{input: req.InputData}
	if b.NewHost != nil {
		h.host = b.NewHost(req)
	} else {
		h.host = noopHost{}
	}

	h.runtime = wazero.NewRuntime(ctx)

	if err := registerHostModule(ctx, h.runtime, h); err != nil {
		h.runtime.Close(ctx)
		return nil, errs.New(errs.SandboxCrash, "wasm", "failed to register host module", err)
	}

	compiled, err := h.runtime.CompileModule(ctx, impl.WasmModule)
	if err != nil {
		h.runtime.Close(ctx)
		return nil, errs.New(errs.ParseError, "wasm", "module failed to compile", err)
	}
	h.compiled = compiled

	return h, nil
}

func (b *Backend) Run(ctx context.Context, handle types.BackendHandle, deadline time.Time, cancel <-chan struct{}) (sandbox.PartialResult, error) {
	h, ok := handle.(*Handle)
	if !ok {
		return sandbox.PartialResult{}, errs.New(errs.Unknown, "wasm", "handle type mismatch", nil)
	}
	h.startedAt = time.Now()
	defer func() { h.endedAt = time.Now() }()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	cfg := wazero.NewModuleConfig().WithCloseOnContextDone(true)
	module, err := h.runtime.InstantiateModule(runCtx, h.compiled, cfg)
	if err != nil {
		return sandbox.PartialResult{Logs: h.snapshotLogs()}, errs.New(errs.SandboxCrash, "wasm", "failed to instantiate module", err)
	}
	h.module = module

	type outcome struct {
		output []byte
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errs.New(errs.SandboxCrash, "wasm", fmt.Sprintf("sandbox panic: %v", r), nil)}
			}
		}()
		out, err := runGuest(runCtx, module, h.input)
		done <- outcome{output: out, err: err}
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err != nil {
			return sandbox.PartialResult{Logs: h.snapshotLogs()}, errs.Normalize("wasm", o.err)
		}
		h.mu.Lock()
		fetchErr := h.fetchErr
		h.mu.Unlock()
		if fetchErr != nil {
			return sandbox.PartialResult{Logs: h.snapshotLogs()}, errs.Normalize("wasm", fetchErr)
		}
		return sandbox.PartialResult{OutputData: o.output, Logs: h.snapshotLogs()}, nil
	case <-cancel:
		cancelRun()
		<-done
		return sandbox.PartialResult{Logs: h.snapshotLogs()}, errs.New(errs.Cancelled, "wasm", "execution cancelled", nil)
	case <-timer.C:
		cancelRun()
		<-done
		return sandbox.PartialResult{Logs: h.snapshotLogs()}, errs.NewTimeout("wasm", "deadline exceeded", false)
	}
}

// runGuest calls the module's alloc/run export pair per the convention
// documented in doc.go and decodes the packed (ptr,len) result.
func runGuest(ctx context.Context, module api.Module, input []byte) ([]byte, error) {
	alloc := module.ExportedFunction("alloc")
	run := module.ExportedFunction("run")
	if alloc == nil || run == nil {
		return nil, errs.New(errs.SandboxCrash, "wasm", "guest module does not export alloc/run", nil)
	}

	var inPtr uint64
	if len(input) > 0 {
		res, err := alloc.Call(ctx, uint64(len(input)))
		if err != nil {
			return nil, fmt.Errorf("guest alloc failed: %w", err)
		}
		inPtr = res[0]
		if !module.Memory().Write(uint32(inPtr), input) {
			return nil, fmt.Errorf("failed to write input into guest memory")
		}
	}

	res, err := run.Call(ctx, inPtr, uint64(len(input)))
	if err != nil {
		return nil, err
	}
	packed := res[0]
	outPtr := uint32(packed >> 32)
	outLen := uint32(packed & 0xffffffff)
	if outLen == 0 {
		return nil, nil
	}
	out, ok := module.Memory().Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from guest memory")
	}
	return append([]byte(nil), out...), nil
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
	ctx := context.Background()
	if h.module != nil {
		_ = h.module.Close(ctx)
	}
	if h.compiled != nil {
		_ = h.compiled.Close(ctx)
	}
	if h.runtime != nil {
		return h.runtime.Close(ctx)
	}
	return nil
}

// registerHostModule exposes "env.host_log" and "env.host_fetch" to the
// guest, mirroring inprocess's injectCapabilities but over (ptr,len)
// pairs since wasm has no shared object model with the host.
func registerHostModule(ctx context.Context, r wazero.Runtime, h *Handle) error {
	_, err := r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ptr, length uint32) {
			buf, ok := m.Memory().Read(ptr, length)
			if !ok {
				return
			}
			h.appendLog("info", string(buf))
		}).
		Export("host_log").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, urlPtr, urlLen, methodPtr, methodLen uint32) uint64 {
			urlBuf, ok := m.Memory().Read(urlPtr, urlLen)
			if !ok {
				return packResult(0, 0)
			}
			methodBuf, _ := m.Memory().Read(methodPtr, methodLen)
			method := string(methodBuf)
			if method == "" {
				method = "GET"
			}
			body, _, err := h.host.Fetch(ctx, method, string(urlBuf), nil)
			h.mu.Lock()
			h.net++
			if err != nil && h.fetchErr == nil {
				h.fetchErr = err
			}
			h.mu.Unlock()
			if err != nil {
				return packResult(0, 0)
			}
			alloc := m.ExportedFunction("alloc")
			if alloc == nil || len(body) == 0 {
				return packResult(0, 0)
			}
			res, err := alloc.Call(ctx, uint64(len(body)))
			if err != nil {
				return packResult(0, 0)
			}
			outPtr := uint32(res[0])
			if !m.Memory().Write(outPtr, body) {
				return packResult(0, 0)
			}
			return packResult(outPtr, uint32(len(body)))
		}).
		Export("host_fetch").
		Instantiate(ctx)
	return err
}

func packResult(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

type noopHost struct{}

func (noopHost) Fetch(context.Context, string, string, []byte) ([]byte, int, error) {
	return nil, 0, fmt.Errorf("fetch capability not configured")
}
func (noopHost) Log(level, text string) {}
