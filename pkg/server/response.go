package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	lrerrors "github.com/vango-dev/liveroute/internal/errors"
	"github.com/vango-dev/liveroute/pkg/event"
	"github.com/vango-dev/liveroute/pkg/live"
	"github.com/vango-dev/liveroute/pkg/middleware"
	"github.com/vango-dev/liveroute/pkg/router"
)

// writeResult writes the Event's answer.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, res event.Result) {
	switch res.Kind {
	case event.None:
		http.NotFound(w, r)
	case event.Pushed:
		s.writeLive(w, res.Response)
	default:
		s.writeValue(w, r, res.Value)
	}
}

func (s *Server) writeValue(w http.ResponseWriter, r *http.Request, value any) {
	switch v := value.(type) {
	case nil:
		w.WriteHeader(http.StatusNoContent)
	case *router.Redirection:
		http.Redirect(w, r, v.Location, v.Status)
	case *live.Response:
		s.writeLive(w, v)
	case *http.Response:
		writeHTTPResponse(w, v)
	case []byte:
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		w.Write(v)
	case string:
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		io.WriteString(w, v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			s.logger.Error("encode answer", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

// writeLive flattens resp. A response that may still change gets a live
// port advertised through HeaderPort.
func (s *Server) writeLive(w http.ResponseWriter, resp *live.Response) {
	var (
		out *http.Response
		err error
	)
	select {
	case <-resp.Done():
		out, err = resp.ToResponse(nil)
	default:
		id, mp := s.ports.Register(resp)
		out, err = resp.ToResponse(mp)
		if err != nil || !streams(out) {
			s.ports.Release(id)
		} else {
			out.Header.Set(HeaderPort, id)
		}
	}
	if err != nil {
		s.logger.Error("flatten live response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeHTTPResponse(w, out)
}

// streams reports whether a flattened response announces later updates.
func streams(resp *http.Response) bool {
	return resp.Header.Get(live.HeaderStream) != "" || resp.Header.Get(live.HeaderFrameTag) != ""
}

func writeHTTPResponse(w http.ResponseWriter, resp *http.Response) {
	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != nil {
		defer resp.Body.Close()
		io.Copy(w, resp.Body)
	}
}

// writeError maps a dispatch failure to a status code.
func (s *Server) writeError(w http.ResponseWriter, e *event.Event, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		e.Logger().Error("dispatch failed", "error", err, "fatal", lrerrors.IsFatal(err))
	} else {
		e.Logger().Debug("dispatch rejected", "error", err, "status", status)
	}
	http.Error(w, http.StatusText(status), status)
}

func statusOf(err error) int {
	switch lrerrors.CodeOf(err) {
	case "R001", "R002", "R003":
		return http.StatusBadRequest
	}
	if errors.Is(err, middleware.ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, event.ErrAborted) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
