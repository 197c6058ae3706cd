package inprocess

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

func TestNativeImplementationRunsAndReportsMetrics(t *testing.T) {
	b := New(nil)
	impl := registry.Implementation{
		NodeType: types.NodeType{Type: "echo", Version: 1},
		Native: func(ctx context.Context, req types.ExecutionRequest, host registry.HostAPI) ([]byte, error) {
			return req.InputData, nil
		},
	}
	req := types.ExecutionRequest{ExecutionID: "e1", InputData: []byte("hello")}

	handle, err := b.Prepare(context.Background(), impl, req, types.SecurityContext{})
	require.NoError(t, err)

	result, err := b.Run(context.Background(), handle, time.Now().Add(time.Second), make(chan struct{}))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), result.OutputData)

	metrics := b.CollectMetrics(handle)
	assert.GreaterOrEqual(t, metrics.ExecutionTimeMS, int64(0))

	require.NoError(t, b.Dispose(handle))
}

func TestScriptImplementationRuns(t *testing.T) {
	b := New(nil)
	impl := registry.Implementation{
		NodeType: types.NodeType{Type: "upper", Version: 1},
		Script:   `function main(input) { return input.toUpperCase(); }`,
	}
	req := types.ExecutionRequest{ExecutionID: "e2", InputData: []byte("hello")}

	handle, err := b.Prepare(context.Background(), impl, req, types.SecurityContext{})
	require.NoError(t, err)

	result, err := b.Run(context.Background(), handle, time.Now().Add(time.Second), make(chan struct{}))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(result.OutputData))
}

func TestRunHonorsDeadline(t *testing.T) {
	b := New(nil)
	impl := registry.Implementation{
		NodeType: types.NodeType{Type: "sleep", Version: 1},
		Native: func(ctx context.Context, req types.ExecutionRequest, host registry.HostAPI) ([]byte, error) {
			time.Sleep(200 * time.Millisecond)
			return nil, nil
		},
	}
	req := types.ExecutionRequest{ExecutionID: "e3"}

	handle, err := b.Prepare(context.Background(), impl, req, types.SecurityContext{})
	require.NoError(t, err)

	_, err = b.Run(context.Background(), handle, time.Now().Add(10*time.Millisecond), make(chan struct{}))
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.Timeout, e.Kind)
}

func TestRunHonorsCancel(t *testing.T) {
	b := New(nil)
	impl := registry.Implementation{
		NodeType: types.NodeType{Type: "sleep", Version: 1},
		Native: func(ctx context.Context, req types.ExecutionRequest, host registry.HostAPI) ([]byte, error) {
			time.Sleep(200 * time.Millisecond)
			return nil, nil
		},
	}
	req := types.ExecutionRequest{ExecutionID: "e4"}

	handle, err := b.Prepare(context.Background(), impl, req, types.SecurityContext{})
	require.NoError(t, err)

	cancel := make(chan struct{})
	close(cancel)

	_, err = b.Run(context.Background(), handle, time.Now().Add(time.Second), cancel)
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.Cancelled, e.Kind)
}

func TestNativePanicNormalizesToSandboxCrash(t *testing.T) {
	b := New(nil)
	impl := registry.Implementation{
		NodeType: types.NodeType{Type: "boom", Version: 1},
		Native: func(ctx context.Context, req types.ExecutionRequest, host registry.HostAPI) ([]byte, error) {
			panic("kaboom")
		},
	}
	req := types.ExecutionRequest{ExecutionID: "e5"}

	handle, err := b.Prepare(context.Background(), impl, req, types.SecurityContext{})
	require.NoError(t, err)

	_, err = b.Run(context.Background(), handle, time.Now().Add(time.Second), make(chan struct{}))
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.SandboxCrash, e.Kind)
}
