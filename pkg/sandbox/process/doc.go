/*
Package process implements the forked-child-process sandbox backend: one
short-lived containerd container per execution, created and torn down with
the same CreateContainer/StartContainer calls and SIGTERM-then-SIGKILL-then-
delete stop sequence a long-lived service container would use, but generalized
to one single-shot container per execution whose lifetime is driven by the
execution engine's deadline instead of a service's desired state.

The memory cap and the optional sandbox_uid/sandbox_gid drop reuse the same OCI spec option construction
a service container build would use; only the inputs (a RuntimeConfig/
SecurityContext instead of a container's resource requirements) changed.
No CPU shares or quota are set.
*/
package process
