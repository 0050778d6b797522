package state

import (
	"fmt"
	"net/http"
	"sync"
)

// Cookies is the cookie jar of one interaction: the request's cookies plus
// the ones set or deleted while handling it.
type Cookies struct {
	mu       sync.Mutex
	incoming map[string]*http.Cookie
	pending  []*http.Cookie
}

// NewCookies reads the cookies of r. A nil r gives an empty jar.
func NewCookies(r *http.Request) *Cookies {
	c := &Cookies{incoming: make(map[string]*http.Cookie)}
	if r != nil {
		for _, ck := range r.Cookies() {
			c.incoming[ck.Name] = ck
		}
	}
	return c
}

// Get returns the current value of name, honouring pending changes.
func (c *Cookies) Get(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.pending) - 1; i >= 0; i-- {
		if ck := c.pending[i]; ck.Name == name {
			if ck.MaxAge < 0 {
				return "", false
			}
			return ck.Value, true
		}
	}
	if ck, ok := c.incoming[name]; ok {
		return ck.Value, true
	}
	return "", false
}

// Set queues ck. Path defaults to "/".
func (c *Cookies) Set(ck *http.Cookie) {
	cp := *ck
	if cp.Path == "" {
		cp.Path = "/"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, &cp)
}

// Delete queues an expiring cookie for name.
func (c *Cookies) Delete(name string) {
	c.Set(&http.Cookie{Name: name, Value: "", MaxAge: -1})
}

// Pending returns the queued cookies, last write per name, in write order.
func (c *Cookies) Pending() []*http.Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := make(map[string]int, len(c.pending))
	for i, ck := range c.pending {
		last[ck.Name+"\x00"+ck.Path+"\x00"+ck.Domain] = i
	}
	out := make([]*http.Cookie, 0, len(last))
	for i, ck := range c.pending {
		if last[ck.Name+"\x00"+ck.Path+"\x00"+ck.Domain] == i {
			out = append(out, ck)
		}
	}
	return out
}

// Commit adds a Set-Cookie header for every pending cookie and clears the
// queue.
func (c *Cookies) Commit(h http.Header) error {
	cookies := c.Pending()
	for _, ck := range cookies {
		if err := ck.Valid(); err != nil {
			return fmt.Errorf("state: cookie %q: %w", ck.Name, err)
		}
	}
	for _, ck := range cookies {
		h.Add("Set-Cookie", ck.String())
	}
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	return nil
}
