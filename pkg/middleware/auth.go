package middleware

import (
	"errors"

	"github.com/vango-dev/liveroute/pkg/router"
)

// ErrUnauthorized is returned when a route requires a user and the Event
// has none. The server answers it with 401.
var ErrUnauthorized = errors.New("unauthorized: user required")

// RequireUser rejects ticks whose Event has no user store. A user store is
// opened by the server only for requests it could identify.
//
// Example:
//
//	table.Add("/me", &router.Entry{
//	    Handlers:   map[string]router.Handler{router.DefaultVerb: me},
//	    Middleware: []router.Middleware{middleware.RequireUser},
//	})
var RequireUser router.Middleware = router.MiddlewareFunc(func(t *router.Tick, next func() (any, error)) (any, error) {
	stores := t.Event.Stores()
	if stores == nil || stores.User == nil {
		return nil, ErrUnauthorized
	}
	return next()
})
