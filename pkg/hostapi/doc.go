/*
Package hostapi provides PolicyHost, the concrete registry.HostAPI every
sandbox backend's NewHost factory builds for the in-process and WASM
variants: a real net/http.Client gated by a compiled pkg/policy.Policy,
with every denied or rate-limited call recorded through pkg/audit.

Grounded on an ingress middleware request path (decide, then account,
then proxy, logging denials as they happen), generalized from inbound
HTTP middleware to an outbound fetch capability.
*/
package hostapi
