/*
Package sandbox defines the common contract shared by the four mutually
exclusive isolation backends (in-process, forked child process, micro-VM,
WASM) and the pure selection function that picks one from a request's
isolation level and availability flags.

Each backend lives in its own sub-package (inprocess, process, microvm,
wasm) and implements Backend. The Execution Engine never type-switches on
a concrete backend; it only holds a Backend value plus the
types.BackendHandle it returned from Prepare.
*/
package sandbox
