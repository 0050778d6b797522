package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-dev/liveroute/pkg/event"
	"github.com/vango-dev/liveroute/pkg/router"
	"github.com/vango-dev/liveroute/pkg/state"
)

func TestRequireUser(t *testing.T) {
	called := false
	table := router.NewTable()
	err := table.Add("/me", &router.Entry{
		Handlers: map[string]router.Handler{
			router.DefaultVerb: func(*router.Tick) (any, error) {
				called = true
				return "me", nil
			},
		},
		Middleware: []router.Middleware{RequireUser},
	})
	if err != nil {
		t.Fatal(err)
	}
	r := router.New(table)

	t.Run("no user store returns ErrUnauthorized and does not call next", func(t *testing.T) {
		e := event.New(httptest.NewRequest(http.MethodGet, "/me", nil))
		_, err := r.Dispatch(e)
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		if called {
			t.Fatal("next should not be called")
		}
	})

	t.Run("user store calls next", func(t *testing.T) {
		backend := state.NewMemoryBackend()
		defer backend.Close()
		user, err := state.Open(context.Background(), backend, "u1", 0)
		if err != nil {
			t.Fatal(err)
		}
		e := event.New(httptest.NewRequest(http.MethodGet, "/me", nil),
			event.WithStores(&state.Stores{User: user}))
		res, err := r.Dispatch(e)
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
		if !called || res.Value != "me" {
			t.Fatalf("called=%v value=%v", called, res.Value)
		}
	})
}
