package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/vango-dev/liveroute/pkg/event"
	"github.com/vango-dev/liveroute/pkg/router"
)

func resetGlobalMetricsForTest() {
	globalMetricsMu.Lock()
	globalMetrics = nil
	globalMetricsMu.Unlock()
}

func newRouter(t *testing.T, routes map[string]any, mw ...router.Middleware) *router.Router {
	t.Helper()
	table, err := router.TableFrom(routes)
	if err != nil {
		t.Fatalf("TableFrom: %v", err)
	}
	r := router.New(table)
	r.Use(mw...)
	return r
}

func dispatch(t *testing.T, r *router.Router, method, target string) (event.Result, error) {
	t.Helper()
	return r.Dispatch(event.New(httptest.NewRequest(method, target, nil)))
}
