// Package server provides HTTP routing, middleware and the JSON control API.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Control API
//
// [API] exposes the operator controls of a [Controller] as JSON endpoints:
//
//	GET  /api/stats              counts by state and progress
//	GET  /api/status             run flags and the session snapshot
//	GET  /api/items?state=       items in claim order
//	GET  /api/items/{id}         one item
//	POST /api/start              {"concurrency": n}
//	POST /api/stop
//	POST /api/items/{id}/retry
//	POST /api/retry-failed
//	POST /api/purge              {"ids": [...], "confirm": true}
//	POST /api/reclaim
//	POST /api/handoff/claim      {"worker": "..."}
//	POST /api/handoff/complete   {"id", "worker", "ok", "reason"}
//	GET  /metrics                Prometheus metrics
//
// Errors are returned as {"error": "..."} with a status derived from the
// shared sentinel errors: not found is 404, state conflicts and a run already
// in progress are 409, bad input is 400.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
// The status page in internal/web is registered this way.
package server
