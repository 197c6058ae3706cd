package process

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/cuemby/nodeforge/pkg/errs"
	"github.com/cuemby/nodeforge/pkg/registry"
	"github.com/cuemby/nodeforge/pkg/sandbox"
	"github.com/cuemby/nodeforge/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// Namespace isolates node-runner containers from any other containerd
	// tenant on the same socket.
	Namespace = "nodeforge"

	// DefaultSocketPath is the usual containerd control socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// hardUpperBound is the independent, backend-enforced cap: the process
	// backend never lets a container outlive this regardless of what the
	// request asked for.
	hardUpperBound = 120 * time.Second
)

// Handle owns one short-lived container and its running task.
type Handle struct {
	containerID string
	client      *containerd.Client

	startedAt time.Time
	endedAt   time.Time

	mu     sync.Mutex
	stdout bytes.Buffer
	memLimitBytes int64
}

func (*Handle) IsolationLevel() types.IsolationLevel { return types.IsolationProcess }

// Backend implements sandbox.Backend by driving one containerd container
// per execution.
type Backend struct {
	client *containerd.Client
}

var _ sandbox.Backend = (*Backend)(nil)

// New connects to the containerd socket at socketPath (DefaultSocketPath
// when empty) and returns a Backend bound to it.
func New(socketPath string) (*Backend, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}
	return &Backend{client: client}, nil
}

func (b *Backend) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, Namespace)
}

func (b *Backend) Prepare(ctx context.Context, impl registry.Implementation, req types.ExecutionRequest, sctx types.SecurityContext) (types.BackendHandle, error) {
	ctx = b.ctx(ctx)

	image, err := b.client.GetImage(ctx, impl.Image)
	if err != nil {
		image, err = b.client.Pull(ctx, impl.Image, containerd.WithPullUnpack)
		if err != nil {
			return nil, errs.New(errs.SandboxCrash, "process", "failed to pull image "+impl.Image, err)
		}
	}

	env := []string{"NODEFORGE_EXECUTION_ID=" + req.ExecutionID, "NODEFORGE_INPUT=" + string(req.InputData)}
	for _, name := range sctx.EnvWhitelist {
		env = append(env, name)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}
	if len(impl.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(impl.Command...))
	}
	if req.CredentialsRef != "" {
		// Credentials are resolved externally and bind-mounted read-only,
		// the same pattern used for any /run/secrets-style mount.
		opts = append(opts, oci.WithMounts([]specs.Mount{{
			Source:      req.CredentialsRef,
			Destination: "/run/credentials",
			Type:        "bind",
			Options:     []string{"ro", "bind"},
		}}))
	}

	memLimit := sctx.MaxMemoryBytes
	if memLimit > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(memLimit)))
	}
	if req.RuntimeConfig.MaxMemoryBytes > 0 && (memLimit == 0 || req.RuntimeConfig.MaxMemoryBytes < memLimit) {
		memLimit = req.RuntimeConfig.MaxMemoryBytes
		opts = append(opts, oci.WithMemoryLimit(uint64(memLimit)))
	}
	if sctx.SandboxUID != 0 || sctx.SandboxGID != 0 {
		opts = append(opts, oci.WithUIDGID(uint32(sctx.SandboxUID), uint32(sctx.SandboxGID)))
	}

	containerID := "exec-" + req.ExecutionID
	container, err := b.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, errs.New(errs.SandboxCrash, "process", "failed to create container", err)
	}
	_ = container

	return &Handle{containerID: containerID, client: b.client, memLimitBytes: memLimit}, nil
}

func (b *Backend) Run(ctx context.Context, handle types.BackendHandle, deadline time.Time, cancel <-chan struct{}) (sandbox.PartialResult, error) {
	h, ok := handle.(*Handle)
	if !ok {
		return sandbox.PartialResult{}, errs.New(errs.Unknown, "process", "handle type mismatch", nil)
	}

	ctx = b.ctx(ctx)
	h.startedAt = time.Now()
	defer func() { h.endedAt = time.Now() }()

	container, err := b.client.LoadContainer(ctx, h.containerID)
	if err != nil {
		return sandbox.PartialResult{}, errs.New(errs.SandboxCrash, "process", "failed to load container", err)
	}

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, &h.stdout, &h.stdout)))
	if err != nil {
		return sandbox.PartialResult{}, errs.New(errs.SandboxCrash, "process", "failed to create task", err)
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		return sandbox.PartialResult{}, errs.New(errs.SandboxCrash, "process", "failed to wait on task", err)
	}

	if err := task.Start(ctx); err != nil {
		return sandbox.PartialResult{}, errs.New(errs.SandboxCrash, "process", "failed to start task", err)
	}

	hardDeadline := deadline
	if cap := h.startedAt.Add(hardUpperBound); cap.Before(hardDeadline) {
		hardDeadline = cap
	}
	timer := time.NewTimer(time.Until(hardDeadline))
	defer timer.Stop()

	select {
	case status := <-statusC:
		logs := h.collectLogs()
		if status.ExitCode() != 0 {
			return sandbox.PartialResult{Logs: logs}, errs.New(errs.SandboxCrash, "process", fmt.Sprintf("exit code %d", status.ExitCode()), nil)
		}
		return sandbox.PartialResult{OutputData: h.stdoutBytes(), Logs: logs}, nil
	case <-cancel:
		b.kill(ctx, task)
		return sandbox.PartialResult{Logs: h.collectLogs()}, errs.New(errs.Cancelled, "process", "execution cancelled", nil)
	case <-timer.C:
		b.kill(ctx, task)
		return sandbox.PartialResult{Logs: h.collectLogs()}, errs.NewTimeout("process", "deadline exceeded", false)
	}
}

// kill does a graceful-then-forceful stop: SIGTERM first, SIGKILL if the
// task does not exit promptly.
func (b *Backend) kill(ctx context.Context, task containerd.Task) {
	// The caller's ctx is already done on both the cancel and the deadline
	// path, so the stop runs on a fresh namespaced context.
	ctx = b.ctx(context.Background())
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exitC, err := task.Wait(stopCtx)
	if err != nil {
		_ = task.Kill(ctx, syscall.SIGKILL)
		return
	}
	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		_ = task.Kill(ctx, syscall.SIGKILL)
		return
	}
	select {
	case <-exitC:
	case <-time.After(2 * time.Second):
		_ = task.Kill(ctx, syscall.SIGKILL)
	}
}

func (h *Handle) stdoutBytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.stdout.Bytes()...)
}

func (h *Handle) collectLogs() []types.LogEntry {
	out := h.stdoutBytes()
	if len(out) == 0 {
		return nil
	}
	return []types.LogEntry{{Timestamp: time.Now(), Level: "info", Text: string(out)}}
}

func (b *Backend) CollectMetrics(handle types.BackendHandle) types.ExecutionMetrics {
	h, ok := handle.(*Handle)
	if !ok {
		return types.ExecutionMetrics{}
	}
	end := h.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	return types.ExecutionMetrics{
		ExecutionTimeMS: end.Sub(h.startedAt).Milliseconds(),
		MemoryUsedBytes: h.memLimitBytes,
	}
}

func (b *Backend) Dispose(handle types.BackendHandle) error {
	h, ok := handle.(*Handle)
	if !ok {
		return nil
	}
	ctx := b.ctx(context.Background())
	container, err := b.client.LoadContainer(ctx, h.containerID)
	if err != nil {
		return nil
	}
	if task, err := container.Task(ctx, nil); err == nil {
		_, _ = task.Delete(ctx)
	}
	return container.Delete(ctx, containerd.WithSnapshotCleanup)
}
