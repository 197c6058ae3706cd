package microvm

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

func TestSanitizeInstanceName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"nf-exec-1", "nf-exec-1"},
		{"nf-EXEC_1.step", "nf-exec-1-step"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, sanitizeInstanceName(c.in))
	}
}

func TestPrepareFailsUnavailableWhenLimaNotInstalled(t *testing.T) {
	if Available() {
		t.Skip("limactl is installed on this host; unavailability path not exercised")
	}

	b := New(DefaultConfig())
	impl := registry.Implementation{NodeType: types.NodeType{Type: "echo", Version: 1}, Image: "alpine:latest"}
	req := types.ExecutionRequest{ExecutionID: "mv-1"}

	_, err := b.Prepare(context.Background(), impl, req, types.SecurityContext{})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.IsolationUnavailable, e.Kind)
	assert.False(t, e.Retryable)
}

func TestPrepareAndRunWhenLimaAvailable(t *testing.T) {
	if !Available() {
		t.Skip("limactl not installed")
	}

	b := New(Config{CPUs: 1, MemoryGiB: 1, DiskGiB: 4, BootTimeout: 5 * time.Minute})
	impl := registry.Implementation{
		NodeType: types.NodeType{Type: "shell-echo", Version: 1},
		Image:    "docker.io/library/alpine:latest",
		Command:  []string{"/bin/echo", "microvm-ok"},
	}
	req := types.ExecutionRequest{ExecutionID: "mv-2"}

	handle, err := b.Prepare(context.Background(), impl, req, types.SecurityContext{})
	if err != nil {
		t.Skipf("lima VM could not be brought up in this environment: %v", err)
	}
	defer b.Dispose(handle)

	result, err := b.Run(context.Background(), handle, time.Now().Add(time.Minute), make(chan struct{}))
	require.NoError(t, err)
	assert.Contains(t, string(result.OutputData), "microvm-ok")
}
