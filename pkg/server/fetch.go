package server

import (
	"context"
	"net/http"

	"github.com/vango-dev/liveroute/pkg/router"
)

// ClientFetch returns a FetchFunc that performs remote requests with c.
// A nil client uses http.DefaultClient.
func ClientFetch(c *http.Client) router.FetchFunc {
	if c == nil {
		c = http.DefaultClient
	}
	return func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return c.Do(req.WithContext(ctx))
	}
}
