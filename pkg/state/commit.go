package state

import (
	"context"
	"fmt"
	"net/http"
)

// Stores groups the state an interaction can read and write. Nil members
// are skipped on commit.
type Stores struct {
	Cookies *Cookies
	Session *Store
	User    *Store
}

// Commit writes cookies into h, then the session store, then the user
// store. It stops at the first failure.
func (s *Stores) Commit(ctx context.Context, h http.Header) error {
	if s == nil {
		return nil
	}
	if s.Cookies != nil {
		if err := s.Cookies.Commit(h); err != nil {
			return fmt.Errorf("state: commit cookies: %w", err)
		}
	}
	if s.Session != nil {
		if err := s.Session.Commit(ctx); err != nil {
			return fmt.Errorf("state: commit session: %w", err)
		}
	}
	if s.User != nil {
		if err := s.User.Commit(ctx); err != nil {
			return fmt.Errorf("state: commit user: %w", err)
		}
	}
	return nil
}
