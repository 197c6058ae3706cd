/*
Package microvm implements the micro-VM sandbox backend: one short-lived
Lima VM per execution, its own rootfs and network namespace. A Lima-backed
embedded containerd bootstrap normally brings up one long-lived instance
backing a whole host's containerd on non-Linux systems; here the scope
narrows to a single execution instead.

Instead of one shared instance started at process boot and torn down at
shutdown, Prepare creates and starts a fresh named instance per execution
and Dispose stops and deletes it. Command execution inside the running VM
is driven over the containerd socket Lima exposes on the host, using the
same socket-path convention the embedded bootstrap uses, and reuses the
process backend's containerd client plumbing against that socket instead
of the host's own.

If the Lima driver is not installed, or no instance reaches Running
within the startup deadline, Prepare fails with ISOLATION_UNAVAILABLE and
the execution fails with that error. Fallback to the process backend is
decided earlier, by pkg/sandbox.Set.Select, and only when the micro-VM
backend is disabled (Set.MicroVMEnabled is false); a Prepare failure here
is never retried on another backend, by this package or by the engine.
*/
package microvm
