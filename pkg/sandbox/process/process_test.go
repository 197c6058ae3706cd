package process

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/nodeforge/pkg/errs"
	"github.com/cuemby/nodeforge/pkg/registry"
	"github.com/cuemby/nodeforge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBackend skips the test when no containerd socket is reachable;
// anything that touches a live daemon needs this guard.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New("")
	if err != nil {
		t.Skipf("containerd not available: %v", err)
	}
	return b
}

func TestPrepareAndRunAlpineEcho(t *testing.T) {
	b := newTestBackend(t)

	impl := registry.Implementation{
		NodeType: types.NodeType{Type: "shell-echo", Version: 1},
		Image:    "docker.io/library/alpine:latest",
		Command:  []string{"/bin/echo", "hello-from-sandbox"},
	}
	req := types.ExecutionRequest{ExecutionID: "proc-1"}

	handle, err := b.Prepare(context.Background(), impl, req, types.SecurityContext{MaxMemoryBytes: 64 * 1024 * 1024})
	require.NoError(t, err)
	defer b.Dispose(handle)

	result, err := b.Run(context.Background(), handle, time.Now().Add(10*time.Second), make(chan struct{}))
	require.NoError(t, err)
	assert.Contains(t, string(result.OutputData), "hello-from-sandbox")

	metrics := b.CollectMetrics(handle)
	assert.GreaterOrEqual(t, metrics.ExecutionTimeMS, int64(0))
	assert.Equal(t, int64(64*1024*1024), metrics.MemoryUsedBytes)
}

func TestRunNonZeroExitNormalizesToSandboxCrash(t *testing.T) {
	b := newTestBackend(t)

	impl := registry.Implementation{
		NodeType: types.NodeType{Type: "shell-fail", Version: 1},
		Image:    "docker.io/library/alpine:latest",
		Command:  []string{"/bin/sh", "-c", "exit 7"},
	}
	req := types.ExecutionRequest{ExecutionID: "proc-2"}

	handle, err := b.Prepare(context.Background(), impl, req, types.SecurityContext{})
	require.NoError(t, err)
	defer b.Dispose(handle)

	_, err = b.Run(context.Background(), handle, time.Now().Add(10*time.Second), make(chan struct{}))
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.SandboxCrash, e.Kind)
}

func TestRunHonorsDeadline(t *testing.T) {
	b := newTestBackend(t)

	impl := registry.Implementation{
		NodeType: types.NodeType{Type: "shell-sleep", Version: 1},
		Image:    "docker.io/library/alpine:latest",
		Command:  []string{"/bin/sleep", "5"},
	}
	req := types.ExecutionRequest{ExecutionID: "proc-3"}

	handle, err := b.Prepare(context.Background(), impl, req, types.SecurityContext{})
	require.NoError(t, err)
	defer b.Dispose(handle)

	_, err = b.Run(context.Background(), handle, time.Now().Add(50*time.Millisecond), make(chan struct{}))
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.Timeout, e.Kind)
	assert.True(t, e.Retryable)
}

func TestRunHonorsCancel(t *testing.T) {
	b := newTestBackend(t)

	impl := registry.Implementation{
		NodeType: types.NodeType{Type: "shell-sleep", Version: 1},
		Image:    "docker.io/library/alpine:latest",
		Command:  []string{"/bin/sleep", "5"},
	}
	req := types.ExecutionRequest{ExecutionID: "proc-4"}

	handle, err := b.Prepare(context.Background(), impl, req, types.SecurityContext{})
	require.NoError(t, err)
	defer b.Dispose(handle)

	cancel := make(chan struct{})
	close(cancel)

	_, err = b.Run(context.Background(), handle, time.Now().Add(10*time.Second), cancel)
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.Cancelled, e.Kind)
}

func TestPrepareMountsCredentialsRef(t *testing.T) {
	b := newTestBackend(t)

	impl := registry.Implementation{
		NodeType: types.NodeType{Type: "shell-creds", Version: 1},
		Image:    "docker.io/library/alpine:latest",
		Command:  []string{"/bin/cat", "/run/credentials/token"},
	}
	req := types.ExecutionRequest{ExecutionID: "proc-5", CredentialsRef: t.TempDir()}

	handle, err := b.Prepare(context.Background(), impl, req, types.SecurityContext{})
	require.NoError(t, err)
	defer b.Dispose(handle)
}
