/*
Package inprocess implements the in-process sandbox backend: node code
runs as JavaScript inside a goja.Runtime in the runner's own process, the
fastest and most restricted of the four isolation variants.

No require, no filesystem, no child processes. The only capabilities
exposed to script are a logger, a policy-mediated fetch, and the JS
standard global surface goja itself provides (JSON, Math, Date). Hard
deadline enforcement uses goja's own Interrupt mechanism, the idiomatic
way to abort a running goja script from another goroutine — there is no
OS-level kill available for in-process code, so this is the only backend
where the hard kill is cooperative rather than forceful.

Native nodes (see pkg/nodes) bypass the JS interpreter entirely and run as
plain Go closures; this backend is still the one that hosts them, since a
native closure and an interpreted script share the same capability
surface and metrics accounting.
*/
package inprocess
