/*
Package telemetry is the runner's observability surface: a Prometheus
metrics sink satisfying engine.Metrics plus extra counters for quota
rejections and policy violations, and health/readiness/liveness HTTP
handlers.

The metric and handler shapes are adapted from a package-level
prometheus.*Vec-registered-once-in-an-init-style-constructor pattern and a
mutex-guarded component map behind Health/Readiness/Liveness handlers,
generalized from cluster/container/raft concerns to execution/session/
quota concerns.
*/
package telemetry
