// Package sinks implements the progress consumers: structured logs,
// Prometheus collectors, the job-run repository and a fan-out broadcaster for
// live subscribers.
package sinks
