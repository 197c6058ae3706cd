package registry

import (
	"context"
	"sync"

	"github.com/cuemby/nodeforge/pkg/errs"
	"github.com/cuemby/nodeforge/pkg/types"
)

// NativeFunc is a direct Go implementation of a node, used by built-in
// nodes (see pkg/nodes) and tests; the in-process backend runs it directly
// instead of interpreting Script when it is set.
type NativeFunc func(ctx context.Context, req types.ExecutionRequest, host HostAPI) ([]byte, error)

// HostAPI is the capability surface injected into a running node,
// mediated by policy: the auditor and policy packages decide what each
// call is allowed to do, the backend only wires the call through.
type HostAPI interface {
	// Fetch performs a policy-mediated outbound HTTP request.
	Fetch(ctx context.Context, method, url string, body []byte) ([]byte, int, error)
	// Log appends one log line to the execution's ordered log.
	Log(level, text string)
}

// Implementation is the opaque node-implementation handle the registry
// resolves (node_type, node_version) to. Each sandbox backend interprets
// only the fields it understands:
//   - in-process: Native if set, else Script run as JavaScript
//   - process / micro-VM: Image + Command
//   - WASM: WasmModule
type Implementation struct {
	NodeType   types.NodeType
	Native     NativeFunc
	Script     string
	Image      string
	Command    []string
	WasmModule []byte
}

// Registry maps node type to a version-indexed set of implementations.
// All mutation goes through a single mutex, matching common storage-layer
// discipline.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]map[int]Implementation
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{nodes: make(map[string]map[int]Implementation)}
}

// Register adds or replaces an implementation for (impl.NodeType.Type,
// impl.NodeType.Version).
func (r *Registry) Register(impl Implementation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.nodes[impl.NodeType.Type]
	if !ok {
		versions = make(map[int]Implementation)
		r.nodes[impl.NodeType.Type] = versions
	}
	versions[impl.NodeType.Version] = impl
}

// Lookup resolves nodeType/version to an implementation. When version is
// 0 (omitted), the highest registered version is returned. A miss
// produces a NODE_NOT_FOUND taxonomy error.
func (r *Registry) Lookup(nodeType string, version int) (Implementation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.nodes[nodeType]
	if !ok || len(versions) == 0 {
		return Implementation{}, errs.New(errs.NodeNotFound, "registry", "no implementation registered for node type "+nodeType, nil)
	}

	if version != 0 {
		impl, ok := versions[version]
		if !ok {
			return Implementation{}, errs.New(errs.NodeNotFound, "registry", "no implementation registered for that version", nil)
		}
		return impl, nil
	}

	best := -1
	for v := range versions {
		if v > best {
			best = v
		}
	}
	return versions[best], nil
}

// Remove deletes every registered version of nodeType. Used by tests and
// hot-reload tooling.
func (r *Registry) Remove(nodeType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, nodeType)
}
