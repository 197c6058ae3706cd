/*
Package registry implements the Plugin Registry: a (node_type,
node_version) to Implementation lookup with dynamic registration and
highest-version-wins resolution when a version is omitted.

Shaped after a typical storage layer: a narrow interface behind a single
mutex, in-memory rather than BoltDB-backed since this registry owns no
persisted state.
*/
package registry
