package router

import (
	"context"
	"io"
	"net/http"

	"github.com/vango-dev/liveroute/pkg/event"
	"github.com/vango-dev/liveroute/pkg/routepath"
)

// Init overrides request fields for a continuation.
type Init struct {
	Method string
	Header http.Header
	Body   io.Reader
}

// Tick is one resolution step: where the request is going, how far it got
// and the entry found there.
type Tick struct {
	// Destination is the full requested path.
	Destination []string

	// Trail is the part of Destination consumed so far.
	Trail []string

	// TrailOnFile is Trail as matched in the table, with Wildcard in place
	// of segments matched by a wildcard entry.
	TrailOnFile []string

	// Entry is the table entry at TrailOnFile, nil for a fallback tick.
	Entry *Entry

	// Event is the interaction this tick serves.
	Event *event.Event

	// Method is the verb the handler was selected for.
	Method string

	// Query is the destination's raw query string.
	Query string

	ctx  context.Context
	walk *walk
}

// Context returns the tick's context: the Event's, unless middleware
// replaced it with SetContext.
func (t *Tick) Context() context.Context {
	if t.ctx != nil {
		return t.ctx
	}
	return t.Event.Context()
}

// SetContext replaces the context used for requests made from this tick.
func (t *Tick) SetContext(ctx context.Context) {
	t.ctx = ctx
}

// Path returns the consumed trail as a path.
func (t *Tick) Path() string {
	return routepath.Join(t.Trail)
}

// Remaining returns the destination segments below the trail.
func (t *Tick) Remaining() []string {
	if len(t.Trail) >= len(t.Destination) {
		return nil
	}
	return t.Destination[len(t.Trail):]
}

// Wildcards returns the segments matched by wildcard entries, in order.
func (t *Tick) Wildcards() []string {
	var out []string
	for i, name := range t.TrailOnFile {
		if name == Wildcard && i < len(t.Trail) {
			out = append(out, t.Trail[i])
		}
	}
	return out
}

// Next continues resolution. With an empty target it resumes one segment
// below the trail along the original destination. A relative target is
// resolved against the trail and resumes below the trail's common prefix
// with the new destination; an absolute one restarts at the root. Remote
// targets fail with R002. The continuation runs on an Event extended from
// t.Event, and its answer is returned: the handler's value, its
// *live.Response when it pushed, or nil.
func (t *Tick) Next(target string, init *Init) (any, error) {
	if target != "" && routepath.IsRemote(target) {
		return nil, remoteError(target)
	}
	return t.continueTo(target, init)
}

// Fetch is Next that also accepts remote targets, which are handed to the
// router's FetchFunc. A remote answer is the *http.Response.
func (t *Tick) Fetch(target string, init *Init) (any, error) {
	if target != "" && routepath.IsRemote(target) {
		return t.fetchRemote(target, init)
	}
	return t.continueTo(target, init)
}

func (t *Tick) continueTo(target string, init *Init) (any, error) {
	dest, query := t.Destination, t.Query
	trail, onFile := t.Trail, t.TrailOnFile
	descend := true

	if target != "" {
		var err error
		dest, query, err = routepath.Resolve(t.Trail, target)
		if err != nil {
			return nil, err
		}
		if routepath.IsAbsolute(target) {
			trail, onFile = nil, nil
			descend = false
		} else {
			trail = routepath.CommonPrefix(t.Trail, dest)
			onFile = t.TrailOnFile[:len(trail):len(trail)]
		}
	}

	method := t.Method
	if init != nil && init.Method != "" {
		method = init.Method
	}

	var opts []event.Option
	if target != "" || init != nil {
		req, err := t.request(dest, query, method, init)
		if err != nil {
			return nil, err
		}
		opts = append(opts, event.WithRequest(req))
	}
	child, err := t.Event.Extend(opts...)
	if err != nil {
		return nil, err
	}
	res, err := t.walk.run(child, method, dest, query, trail, onFile, descend)
	if err != nil {
		return nil, err
	}
	return valueOf(res), nil
}

// request derives the continuation's request from the Event's.
func (t *Tick) request(dest []string, query, method string, init *Init) (*http.Request, error) {
	ctx := t.Context()
	base := t.Event.Request()
	if base == nil {
		target := routepath.Join(dest)
		if query != "" {
			target += "?" + query
		}
		var body io.Reader
		if init != nil {
			body = init.Body
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, err
		}
		if init != nil {
			copyHeader(req.Header, init.Header)
		}
		return req, nil
	}

	req := base.Clone(ctx)
	req.Method = method
	req.URL.Path = routepath.Join(dest)
	req.URL.RawPath = ""
	req.URL.RawQuery = query
	req.RequestURI = ""
	if init != nil {
		copyHeader(req.Header, init.Header)
		if init.Body != nil {
			req.Body = io.NopCloser(init.Body)
			req.ContentLength = -1
		}
	}
	return req, nil
}

func (t *Tick) fetchRemote(target string, init *Init) (any, error) {
	if t.walk.fetch == nil {
		return nil, ErrNoFetch
	}
	method := t.Method
	var body io.Reader
	if init != nil {
		if init.Method != "" {
			method = init.Method
		}
		body = init.Body
	}
	req, err := http.NewRequestWithContext(t.Context(), method, target, body)
	if err != nil {
		return nil, err
	}
	if init != nil {
		copyHeader(req.Header, init.Header)
	}
	t.walk.router.logger.Debug("cross-boundary fetch", "url", target, "method", method)
	resp, err := t.walk.fetch(t.Context(), req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		dst.Del(k)
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
