/*
Package limiter implements the Resource Limiter: it admits or rejects new
executions against per-tenant concurrency and memory caps plus a global
concurrency cap, and tracks realized network request counts in rolling
windows for quota enforcement. File-operation counters are not tracked.

Admission follows the same "count active work per key, compare to cap"
shape a scheduler uses when counting containers per node before placing a
new one, generalized from nodes to tenants. Rolling-window accounting
reuses the per-key golang.org/x/time/rate.Limiter map idiom commonly used
for per-IP HTTP rate limiting.

Every AdmissionToken returned by Admit must be released exactly once;
Release is idempotent so a caller can call it unconditionally on every
exit path of a session without double-accounting.
*/
package limiter
