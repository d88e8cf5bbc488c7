// Package api hosts the two HTTP services.
//
// The web service (WebServer) serves probes and /api/v1/auth login, logout
// and me. The autoscraper service (AutoscraperServer) serves probes plus the
// bearer-protected /api/v1/autoscraper routes: engine start/state/pause/
// resume/reset, jobs, job boards, queue status, system metrics, job run
// progress and a websocket event stream. Both answer unknown routes with
// {"error":"not found"}.
package api
