/*
Package audit implements the Security Auditor: it records policy
violations observed for each execution and provides a PII redaction
helper (Auditor.Redact). The runner does not apply that helper to log or
output payloads on its own; only callers that invoke Redact get redaction.

The violation log is grounded on a sandbox SecurityAuditor shape (a
capability/policy auditor keeping a bounded ring buffer of recent events
behind a mutex), generalized from capability-check events to
network-policy-decision violations. The hash redaction mode reuses a
SHA-256-based secret derivation primitive.
*/
package audit
