// Package server exposes the dashboard over HTTP.
//
// One Server wraps one live *dashboard.Controller and serves:
//
//	GET  /              server-rendered dashboard page
//	POST /period        select a period (form), then redirect to /
//	POST /refresh       start a refresh, then redirect to /
//	GET  /api/state     JSON view state
//	POST /api/period    select a period (JSON body)
//	POST /api/refresh   start a refresh
//	GET  /api/history   recent fetch cycles
//	GET  /ws            websocket pushing the view state on every change
//	GET  /metrics       prometheus metrics
//	GET  /healthz       liveness
//
// The controller can be replaced at runtime with Swap, which is how a
// reloaded config file takes effect.
package server
