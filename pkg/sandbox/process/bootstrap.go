package process

import (
	"context"
	"os"
	"path/filepath"
)

// Daemon is a running containerd instance this process brought up (or a
// handle onto an external one), ready for New to dial.
type Daemon struct {
	socketPath string
	stop       func() error
}

// SocketPath is the address a Backend should dial with New.
func (d *Daemon) SocketPath() string { return d.socketPath }

// Stop tears down whatever bringUp started. Safe to call on a Daemon that
// wraps an external containerd: it is then a no-op.
func (d *Daemon) Stop() error {
	if d.stop == nil {
		return nil
	}
	return d.stop()
}

// Bootstrap makes a containerd socket available for the process and
// micro-VM backends and returns a Daemon describing how to reach it.
// useExternal skips bring-up entirely and points at DefaultSocketPath,
// for operators who already run containerd as a system service. dataDir
// holds whatever state the chosen bring-up path needs to persist across
// restarts (the socket/root/state directories on Linux, nothing on macOS
// since Lima owns its own instance directory).
func Bootstrap(ctx context.Context, dataDir string, useExternal bool) (*Daemon, error) {
	if useExternal {
		return &Daemon{socketPath: DefaultSocketPath}, nil
	}
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return bootstrap(ctx, dataDir)
}

// DefaultDataDir is where bringUp stores whatever state its platform needs
// (the Linux path's root/state directories; unused on macOS).
const DefaultDataDir = "/var/lib/noderunner"

func socketDir(dataDir string) string {
	return filepath.Join(dataDir, "run")
}
