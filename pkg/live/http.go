package live

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/vango-dev/liveroute/pkg/messaging"
	"github.com/vango-dev/liveroute/pkg/mutation"
	"github.com/vango-dev/liveroute/pkg/task"
)

// Protocol headers.
const (
	// HeaderGeneratorDone is "true" when no further snapshots follow.
	HeaderGeneratorDone = "X-Live-Generator-Done"

	// HeaderFrameTag names the frame whose mutation batches patch the body.
	HeaderFrameTag = "X-Live-Frame-Tag"

	// HeaderStream is the event id later snapshots are pushed under.
	HeaderStream = "X-Live-Stream"
)

// TypeReplace is the message type carrying a whole new snapshot.
const TypeReplace = "replace"

// replaceMessage is the payload of a TypeReplace message.
type replaceMessage struct {
	Body       any         `json:"body"`
	Frame      string      `json:"frame,omitempty"`
	Status     int         `json:"status,omitempty"`
	StatusText string      `json:"statusText,omitempty"`
	Header     http.Header `json:"header,omitempty"`
	Done       bool        `json:"done,omitempty"`

	// Finish carries no snapshot; it only ends the generator.
	Finish bool `json:"finish,omitempty"`
}

// ToResponse flattens r into a finished response. With a port, an open
// object frame is tagged and published over it, and while more snapshots
// may follow each replacement is pushed to the port.
func (r *Response) ToResponse(port messaging.Port, opts ...messaging.SyncOption) (*http.Response, error) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	snap := r.Snapshot()
	header := snap.Header.Clone()
	header.Set(HeaderGeneratorDone, strconv.FormatBool(snap.GeneratorDone))

	body := snap.Body
	if obj, ok := body.(*mutation.Object); ok {
		if port != nil && !snap.FrameDone {
			frame := uuid.NewString()
			_, err := port.PublishLive(snap.frame, obj, frame, func(s any) error {
				body = s
				return nil
			}, opts...)
			if err != nil {
				return nil, err
			}
			header.Set(HeaderFrameTag, frame)
		} else {
			body = obj.Snapshot()
		}
	}

	if port != nil && !snap.GeneratorDone {
		stream := uuid.NewString()
		header.Set(HeaderStream, stream)
		off := r.addForwarder(port, stream, opts)
		r.onRelease(off)
	}

	data, contentType, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	if contentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", contentType)
	}

	status := snap.Status
	if status == 0 {
		status = http.StatusOK
	}
	text := snap.StatusText
	if text == "" {
		text = http.StatusText(status)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, text),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
	}, nil
}

// addForwarder pushes every later snapshot, and the end of the generator,
// to port under stream.
func (r *Response) addForwarder(port messaging.Port, stream string, opts []messaging.SyncOption) (off func()) {
	offFinish := r.On(EventGeneratorDone, func(s Snapshot) {
		err := port.PostMessage(replaceMessage{Finish: true}, messaging.WithType(TypeReplace), messaging.WithEventID(stream))
		if err != nil {
			r.logger.Debug("forward finish failed", "stream", stream, "error", err)
		}
	})
	offReplace := r.On(EventReplace, func(s Snapshot) {
		if s.InPlace {
			return
		}
		msg := replaceMessage{
			Status:     s.Status,
			StatusText: s.StatusText,
			Header:     s.Header,
			Done:       s.GeneratorDone,
		}
		post := func() error {
			return port.PostMessage(msg, messaging.WithType(TypeReplace), messaging.WithEventID(stream))
		}

		var err error
		obj, ok := s.Body.(*mutation.Object)
		switch {
		case ok && !s.FrameDone:
			msg.Frame = uuid.NewString()
			_, err = port.PublishLive(s.frame, obj, msg.Frame, func(snapshot any) error {
				msg.Body = snapshot
				return post()
			}, opts...)
		case ok:
			msg.Body = obj.Snapshot()
			err = post()
		default:
			msg.Body = s.Body
			err = post()
		}
		if err != nil {
			r.logger.Warn("forward snapshot failed", "stream", stream, "generation", s.Generation, "error", err)
		}
	})
	return func() {
		offReplace()
		offFinish()
	}
}

// FromResponse builds a Response from a finished one. With a port, a tagged
// frame is replayed onto the body and, unless the generator is done,
// snapshots pushed under the stream header replace it.
func FromResponse(ctx context.Context, resp *http.Response, port messaging.Port, opts ...Option) (*Response, error) {
	defer resp.Body.Close()
	body, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}

	r := newResponse(ctx, opts)
	header := resp.Header.Clone()
	frame := header.Get(HeaderFrameTag)
	stream := header.Get(HeaderStream)
	done := header.Get(HeaderGeneratorDone) != "false"
	for _, h := range []string{HeaderFrameTag, HeaderStream, HeaderGeneratorDone} {
		header.Del(h)
	}

	value, closure := r.frameValue(port, body, frame)

	if port != nil && !done && stream != "" {
		off := port.Subscribe(func(m messaging.Message) {
			r.receiveReplace(port, m)
		}, messaging.ForType(TypeReplace), messaging.ForEvent(stream))
		r.onRelease(off)
	}

	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	err = r.ReplaceWith(value, Options{
		Status:     resp.StatusCode,
		StatusText: text,
		Header:     header,
		Done:       done,
	}, closure)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// frameValue wraps body in an object replaying frame when both are usable.
func (r *Response) frameValue(port messaging.Port, body any, frame string) (any, task.Waiter) {
	if port == nil || frame == "" {
		return body, nil
	}
	obj, err := mutation.NewObject(body)
	if err != nil {
		r.logger.Warn("frame tag on non-structured body", "frame", frame, "error", err)
		return body, nil
	}
	return obj, port.ApplyMutations(r.ctx, obj, frame)
}

func (r *Response) receiveReplace(port messaging.Port, m messaging.Message) {
	var msg replaceMessage
	switch d := m.Data.(type) {
	case replaceMessage:
		msg = d
	default:
		raw, err := json.Marshal(d)
		if err == nil {
			err = json.Unmarshal(raw, &msg)
		}
		if err != nil {
			r.logger.Warn("malformed replace message", "error", err)
			return
		}
	}

	if msg.Finish {
		r.Finish()
		return
	}
	value, closure := r.frameValue(port, msg.Body, msg.Frame)
	err := r.ReplaceWith(value, Options{
		Status:     msg.Status,
		StatusText: msg.StatusText,
		Header:     msg.Header,
		Done:       msg.Done,
	}, closure)
	if err != nil {
		r.logger.Debug("replace dropped", "error", err)
	}
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "application/octet-stream", nil
	case string:
		return []byte(b), "text/plain; charset=utf-8", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("live: encode body: %w", err)
		}
		return data, "application/json", nil
	}
}

func decodeBody(resp *http.Response) (any, error) {
	if resp.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("live: read body: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("live: decode body: %w", err)
		}
		return v, nil
	case strings.HasPrefix(mediaType, "text/"):
		return string(data), nil
	default:
		return data, nil
	}
}
