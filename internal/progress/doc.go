// Package progress carries scrape-job progress from workers to observers.
//
// Workers call Emit on a Hub, which never blocks. A background goroutine
// batches events by size or age and hands each batch to the registered sinks:
// structured logs, Prometheus collectors, the job-run repository and the live
// websocket broadcaster.
package progress
