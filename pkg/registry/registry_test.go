package registry

import (
	"testing"

	"github.com/cuemby/nodeforge/pkg/errs"
	"github.com/cuemby/nodeforge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupMissReturnsNodeNotFound(t *testing.T) {
	r := New()
	_, err := r.Lookup("http", 0)
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.NodeNotFound, e.Kind)
	assert.False(t, e.Retryable)
}

func TestLookupExactVersion(t *testing.T) {
	r := New()
	r.Register(Implementation{NodeType: types.NodeType{Type: "http", Version: 1}})
	r.Register(Implementation{NodeType: types.NodeType{Type: "http", Version: 2}})

	impl, err := r.Lookup("http", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, impl.NodeType.Version)
}

func TestLookupOmittedVersionReturnsHighest(t *testing.T) {
	r := New()
	r.Register(Implementation{NodeType: types.NodeType{Type: "http", Version: 1}})
	r.Register(Implementation{NodeType: types.NodeType{Type: "http", Version: 3}})
	r.Register(Implementation{NodeType: types.NodeType{Type: "http", Version: 2}})

	impl, err := r.Lookup("http", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, impl.NodeType.Version)
}

func TestLookupMissingVersion(t *testing.T) {
	r := New()
	r.Register(Implementation{NodeType: types.NodeType{Type: "http", Version: 1}})

	_, err := r.Lookup("http", 5)
	require.Error(t, err)
	e, _ := errs.As(err)
	assert.Equal(t, errs.NodeNotFound, e.Kind)
}

func TestRemove(t *testing.T) {
	r := New()
	r.Register(Implementation{NodeType: types.NodeType{Type: "http", Version: 1}})
	r.Remove("http")

	_, err := r.Lookup("http", 0)
	require.Error(t, err)
}
