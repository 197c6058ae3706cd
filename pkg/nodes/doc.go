/*
Package nodes provides the runner's built-in node implementations: echo,
sleep, http, and transform. Each is a registry.NativeFunc, the same
narrow (ctx, req, host) -> (output, error) shape any user-supplied native
node would use, run directly by the in-process backend instead of
compiled from Script.

These exist for integration tests and as the defaults a fresh
Registry is seeded with by cmd/noderunner; they are not part of the
sandbox contract itself.
*/
package nodes
