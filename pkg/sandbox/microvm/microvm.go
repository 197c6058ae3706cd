package microvm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cuemby/nodeforge/pkg/errs"
	"github.com/cuemby/nodeforge/pkg/registry"
	"github.com/cuemby/nodeforge/pkg/sandbox"
	"github.com/cuemby/nodeforge/pkg/sandbox/process"
	"github.com/cuemby/nodeforge/pkg/types"
	"github.com/lima-vm/lima/pkg/instance"
	"github.com/lima-vm/lima/pkg/limayaml"
	"github.com/lima-vm/lima/pkg/store"
)

// Config tunes the VM brought up per execution.
type Config struct {
	CPUs        int
	MemoryGiB   int
	DiskGiB     int
	BootTimeout time.Duration
}

// DefaultConfig mirrors typical Lima instance sizing, scaled down for a VM
// that lives for one execution instead of a long-running service.
func DefaultConfig() Config {
	return Config{CPUs: 1, MemoryGiB: 1, DiskGiB: 4, BootTimeout: 60 * time.Second}
}

// Handle owns one Lima instance and the process.Backend talking to the
// containerd socket it exposes.
type Handle struct {
	instanceName string

	proc       *process.Backend
	procHandle types.BackendHandle

	startedAt time.Time
}

func (*Handle) IsolationLevel() types.IsolationLevel { return types.IsolationMicroVM }

// Backend implements sandbox.Backend by driving one short-lived Lima VM
// per execution and delegating the actual run to a process.Backend
// pointed at that VM's containerd socket.
type Backend struct {
	cfg Config
}

var _ sandbox.Backend = (*Backend)(nil)

// New returns a microvm Backend. cfg.BootTimeout defaults to 60s when zero.
func New(cfg Config) *Backend {
	if cfg.BootTimeout == 0 {
		cfg.BootTimeout = DefaultConfig().BootTimeout
	}
	return &Backend{cfg: cfg}
}

// Available reports whether the Lima driver is usable on this host, the
// same check pkg/sandbox.Set.Select relies on before deciding between
// ISOLATION_UNAVAILABLE and a process-backend fallback.
func Available() bool {
	_, err := exec.LookPath("limactl")
	return err == nil
}

func (b *Backend) Prepare(ctx context.Context, impl registry.Implementation, req types.ExecutionRequest, sctx types.SecurityContext) (types.BackendHandle, error) {
	if !Available() {
		return nil, errs.New(errs.IsolationUnavailable, "microvm", "lima driver not installed", nil)
	}

	instanceName := sanitizeInstanceName("nf-" + req.ExecutionID)
	if err := bringUp(ctx, instanceName, b.cfg); err != nil {
		return nil, errs.New(errs.IsolationUnavailable, "microvm", "failed to start lima instance", err)
	}

	socketPath, err := waitForContainerdSocket(ctx, instanceName, b.cfg.BootTimeout)
	if err != nil {
		_ = tearDown(instanceName)
		return nil, errs.New(errs.IsolationUnavailable, "microvm", "lima instance did not expose a containerd socket", err)
	}

	proc, err := process.New(socketPath)
	if err != nil {
		_ = tearDown(instanceName)
		return nil, errs.New(errs.IsolationUnavailable, "microvm", "failed to connect to in-VM containerd", err)
	}

	procHandle, err := proc.Prepare(ctx, impl, req, sctx)
	if err != nil {
		_ = tearDown(instanceName)
		return nil, err
	}

	return &Handle{instanceName: instanceName, proc: proc, procHandle: procHandle}, nil
}

func (b *Backend) Run(ctx context.Context, handle types.BackendHandle, deadline time.Time, cancel <-chan struct{}) (sandbox.PartialResult, error) {
	h, ok := handle.(*Handle)
	if !ok {
		return sandbox.PartialResult{}, errs.New(errs.Unknown, "microvm", "handle type mismatch", nil)
	}
	h.startedAt = time.Now()
	return h.proc.Run(ctx, h.procHandle, deadline, cancel)
}

func (b *Backend) CollectMetrics(handle types.BackendHandle) types.ExecutionMetrics {
	h, ok := handle.(*Handle)
	if !ok {
		return types.ExecutionMetrics{}
	}
	return h.proc.CollectMetrics(h.procHandle)
}

func (b *Backend) Dispose(handle types.BackendHandle) error {
	h, ok := handle.(*Handle)
	if !ok {
		return nil
	}
	_ = h.proc.Dispose(h.procHandle)
	return tearDown(h.instanceName)
}

func bringUp(ctx context.Context, instanceName string, cfg Config) error {
	if _, err := store.Inspect(instanceName); err == nil {
		return nil // already exists from a retry of the same execution
	}

	arch := limayaml.AARCH64
	if runtime.GOARCH == "amd64" {
		arch = limayaml.X8664
	}
	memory := fmt.Sprintf("%dGiB", cfg.MemoryGiB)
	disk := fmt.Sprintf("%dGiB", cfg.DiskGiB)
	cpus := cfg.CPUs

	y := limayaml.LimaYAML{
		Arch:       &arch,
		CPUs:       &cpus,
		Memory:     &memory,
		Disk:       &disk,
		Containerd: limayaml.Containerd{System: boolPtr(true)},
		Message:    "nodeforge execution sandbox",
	}

	configYAML, err := limayaml.Marshal(&y, false)
	if err != nil {
		return fmt.Errorf("marshal lima config: %w", err)
	}
	if _, err := instance.Create(ctx, instanceName, configYAML, false); err != nil {
		return fmt.Errorf("create lima instance: %w", err)
	}
	inst, err := store.Inspect(instanceName)
	if err != nil {
		return fmt.Errorf("inspect created instance: %w", err)
	}
	if err := instance.Start(ctx, inst, "", false); err != nil {
		return fmt.Errorf("start lima instance: %w", err)
	}
	return nil
}

func waitForContainerdSocket(ctx context.Context, instanceName string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	socketPath := containerdSocketPath(instanceName)
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("timeout waiting for containerd socket at %s", socketPath)
		case <-ticker.C:
			inst, err := store.Inspect(instanceName)
			if err != nil {
				continue
			}
			if inst.Status != store.StatusRunning {
				continue
			}
			if _, err := os.Stat(socketPath); err == nil {
				return socketPath, nil
			}
		}
	}
}

func containerdSocketPath(instanceName string) string {
	limaHome := os.Getenv("LIMA_HOME")
	if limaHome == "" {
		home, _ := os.UserHomeDir()
		limaHome = filepath.Join(home, ".lima")
	}
	return filepath.Join(limaHome, instanceName, "sock", "containerd.sock")
}

func tearDown(instanceName string) error {
	if inst, err := store.Inspect(instanceName); err == nil {
		if err := instance.StopGracefully(context.Background(), inst, false); err != nil {
			instance.StopForcibly(inst)
		}
	}
	// Lima has no library-level delete entry point exposed; limactl
	// itself does the work of removing the instance directory.
	return exec.Command("limactl", "delete", "-f", instanceName).Run()
}

func sanitizeInstanceName(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := b.String()
	if len(out) > 60 {
		out = out[:60]
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
