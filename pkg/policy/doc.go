/*
Package policy compiles a per-execution NetworkPolicyDoc into a decision
function for outbound request descriptors: domain suffix match, CIDR
match, port match, and a priority-ordered firewall rule list, plus a
bandwidth cap and max-concurrent-connections accounting.

This is adapted directly from an ingress middleware's access-control path
(CheckAccessControl/matchCIDR/CheckRateLimit), generalized from per-client
HTTP requests to per-execution outbound request descriptors. The
priority-ordered firewall rules, a more expressive layer plain ingress
middleware does not have, are checked first and the first matching rule
decides; when no rule matches, the deny-list is checked, then the
allow-list, and the request is allowed by default when neither is
configured.
*/
package policy
