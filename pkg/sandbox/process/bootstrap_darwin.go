//go:build darwin

package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/lima-vm/lima/pkg/instance"
	"github.com/lima-vm/lima/pkg/limayaml"
	"github.com/lima-vm/lima/pkg/store"
)

// daemonInstanceName is the single long-lived Lima instance the process
// backend dials on macOS, as opposed to pkg/sandbox/microvm's "nf-<execution
// id>" instances, which boot and die with one execution each.
const daemonInstanceName = "nodeforge-containerd"

// bootstrap starts (or reattaches to) the runner's long-lived Lima VM and
// returns the containerd socket it exposes. dataDir is unused here: Lima
// keeps its own instance state under LIMA_HOME.
func bootstrap(ctx context.Context, dataDir string) (*Daemon, error) {
	if _, err := exec.LookPath("limactl"); err != nil {
		return nil, fmt.Errorf("lima driver not installed: %w", err)
	}

	if _, err := store.Inspect(daemonInstanceName); err != nil {
		arch := limayaml.AARCH64
		if runtime.GOARCH == "amd64" {
			arch = limayaml.X8664
		}
		cpus := 2
		memory := "2GiB"
		disk := "10GiB"
		y := limayaml.LimaYAML{
			Arch:       &arch,
			CPUs:       &cpus,
			Memory:     &memory,
			Disk:       &disk,
			Containerd: limayaml.Containerd{System: boolPtr(true)},
			Message:    "nodeforge process-isolation containerd host",
		}
		configYAML, err := limayaml.Marshal(&y, false)
		if err != nil {
			return nil, fmt.Errorf("marshal lima config: %w", err)
		}
		if _, err := instance.Create(ctx, daemonInstanceName, configYAML, false); err != nil {
			return nil, fmt.Errorf("create lima instance: %w", err)
		}
	}

	inst, err := store.Inspect(daemonInstanceName)
	if err != nil {
		return nil, fmt.Errorf("inspect lima instance: %w", err)
	}
	if inst.Status != store.StatusRunning {
		if err := instance.Start(ctx, inst, "", false); err != nil {
			return nil, fmt.Errorf("start lima instance: %w", err)
		}
	}

	socketPath, err := waitForSocket(ctx, containerdSocketPath(daemonInstanceName), 60*time.Second)
	if err != nil {
		return nil, err
	}

	stop := func() error {
		inst, err := store.Inspect(daemonInstanceName)
		if err != nil {
			return nil
		}
		if err := instance.StopGracefully(context.Background(), inst, false); err != nil {
			instance.StopForcibly(inst)
		}
		return nil
	}

	return &Daemon{socketPath: socketPath, stop: stop}, nil
}

func containerdSocketPath(instanceName string) string {
	limaHome := os.Getenv("LIMA_HOME")
	if limaHome == "" {
		home, _ := os.UserHomeDir()
		limaHome = filepath.Join(home, ".lima")
	}
	return filepath.Join(limaHome, instanceName, "sock", "containerd.sock")
}

func waitForSocket(ctx context.Context, socketPath string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("timeout waiting for containerd socket at %s", socketPath)
		case <-ticker.C:
			inst, err := store.Inspect(daemonInstanceName)
			if err != nil || inst.Status != store.StatusRunning {
				continue
			}
			if _, err := os.Stat(socketPath); err == nil {
				return socketPath, nil
			}
		}
	}
}

func boolPtr(b bool) *bool { return &b }
