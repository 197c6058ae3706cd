package sandbox

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

type stubBackend struct{ name string }

func (stubBackend) Prepare(context.Context, registry.Implementation, types.ExecutionRequest, types.SecurityContext) (types.BackendHandle, error) {
	return nil, nil
}
func (stubBackend) Run(context.Context, types.BackendHandle, time.Time, <-chan struct{}) (PartialResult, error) {
	return PartialResult{}, nil
}
func (stubBackend) CollectMetrics(types.BackendHandle) types.ExecutionMetrics { return types.ExecutionMetrics{} }
func (stubBackend) Dispose(types.BackendHandle) error                        { return nil }

func TestSelectDirectMatch(t *testing.T) {
	s := Set{Backends: map[types.IsolationLevel]Backend{
		types.IsolationInProcess: stubBackend{name: "inprocess"},
	}}

	b, level, err := s.Select(types.IsolationInProcess, false)
	require.NoError(t, err)
	assert.Equal(t, types.IsolationInProcess, level)
	assert.Equal(t, stubBackend{name: "inprocess"}, b)
}

func TestSelectUnregisteredIsolationUnavailable(t *testing.T) {
	s := Set{Backends: map[types.IsolationLevel]Backend{}}
	_, _, err := s.Select(types.IsolationWasm, false)
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.IsolationUnavailable, e.Kind)
	assert.False(t, e.Retryable)
}

func TestSelectMicroVMFallsBackToProcessWhenAllowed(t *testing.T) {
	s := Set{
		Backends: map[types.IsolationLevel]Backend{
			types.IsolationProcess: stubBackend{name: "process"},
		},
		MicroVMEnabled: false,
	}

	b, level, err := s.Select(types.IsolationMicroVM, true)
	require.NoError(t, err)
	assert.Equal(t, types.IsolationProcess, level)
	assert.Equal(t, stubBackend{name: "process"}, b)
}

func TestSelectMicroVMFailsWithoutFallback(t *testing.T) {
	s := Set{
		Backends: map[types.IsolationLevel]Backend{
			types.IsolationProcess: stubBackend{name: "process"},
		},
		MicroVMEnabled: false,
	}

	_, _, err := s.Select(types.IsolationMicroVM, false)
	require.Error(t, err)
	e, _ := errs.As(err)
	assert.Equal(t, errs.IsolationUnavailable, e.Kind)
}

func TestSelectMicroVMEnabledUsesMicroVMBackend(t *testing.T) {
	s := Set{
		Backends: map[types.IsolationLevel]Backend{
			types.IsolationMicroVM: stubBackend{name: "microvm"},
			types.IsolationProcess: stubBackend{name: "process"},
		},
		MicroVMEnabled: true,
	}

	b, level, err := s.Select(types.IsolationMicroVM, false)
	require.NoError(t, err)
	assert.Equal(t, types.IsolationMicroVM, level)
	assert.Equal(t, stubBackend{name: "microvm"}, b)
}
