/*
Package wasm implements the WebAssembly sandbox backend: a guest module
executed by wazero (github.com/tetratelabs/wazero) against a
capability-gated host, the narrowest of the four isolation variants next
to in-process.

This package is grounded on the shape of pkg/sandbox/inprocess: same
Handle/Backend split, same capability-injection idea (a logger and a
policy-mediated fetch, nothing else), same goroutine/timer/cancel race in
Run. wazero itself replaces goja's Interrupt with WithCloseOnContextDone,
which aborts a running call as soon as its context is cancelled — the
idiomatic wazero equivalent of a hard kill for a backend with no process
boundary to signal.

Guest contract: the module exports linear memory, an "alloc" function
taking a byte count and returning a pointer, and a "run" function taking
(ptr, len) for the input and returning a single i64 packing the output
pointer in the high 32 bits and its length in the low 32 bits. Imports
are a single "env" module exposing "host_log" and "host_fetch", both
operating on (ptr, len) pairs into the guest's own memory.
*/
package wasm
