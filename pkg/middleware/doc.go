// Package middleware provides observability middleware for the router.
//
// # OpenTelemetry
//
// OpenTelemetry opens a span around every handler invocation. The span
// carries the consumed trail, the destination, the method and the event id,
// and it becomes the tick's context, so remote fetches inherit the trace:
//
//	r := router.New(table)
//	r.Use(middleware.OpenTelemetry(
//	    middleware.WithTracerName("my-app"),
//	    middleware.WithTickFilter(func(t *router.Tick) bool {
//	        return t.Path() != "/healthz"
//	    }),
//	))
//
// # Prometheus
//
// Prometheus counts and times invocations by method and outcome:
//   - liveroute_dispatch_total
//   - liveroute_dispatch_duration_seconds
//   - liveroute_dispatch_errors_total
//   - liveroute_live_ports
//   - liveroute_live_responses_total
//
//	r.Use(middleware.Prometheus())
//	http.Handle("/metrics", promhttp.Handler())
package middleware
