package board

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vango-dev/liveroute/pkg/live"
	"github.com/vango-dev/liveroute/pkg/middleware"
	"github.com/vango-dev/liveroute/pkg/router"
	"github.com/vango-dev/liveroute/pkg/task"
)

// HeaderUser names the request header identifying the user for /me.
const HeaderUser = "X-User-ID"

const (
	maxNoteBytes  = 4 << 10
	maxClockTicks = 60
)

// Routes returns the board's route table entries. Handlers of "/" and
// "/board" pass deeper paths on with Next.
func (b *Board) Routes() map[string]any {
	return map[string]any{
		"/": router.Handler(b.index),
		"/board": map[string]router.Handler{
			http.MethodGet:  b.watch,
			http.MethodPost: b.post,
		},
		"/board/-": map[string]router.Handler{
			http.MethodGet:    b.note,
			http.MethodDelete: b.remove,
		},
		"/clock": router.Handler(b.clock),
		"/me": &router.Entry{
			Handlers:   map[string]router.Handler{router.DefaultVerb: b.me},
			Middleware: []router.Middleware{middleware.RequireUser},
		},
	}
}

// UserID reads the user of a request from HeaderUser.
func UserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderUser))
}

func (b *Board) index(t *router.Tick) (any, error) {
	if len(t.Remaining()) > 0 {
		return t.Next("", nil)
	}
	return map[string]any{
		"board": "/board",
		"clock": "/clock?n=10",
		"me":    "/me",
		"notes": len(b.List()),
	}, nil
}

// watch answers with the live notes object. The answer stays live until the
// response is released, so later notes reach the subscriber as mutations.
// With ?snapshot the current notes are returned once.
func (b *Board) watch(t *router.Tick) (any, error) {
	if len(t.Remaining()) > 0 {
		return t.Next("", nil)
	}
	if query(t).Has("snapshot") {
		return b.List(), nil
	}
	if err := t.Event.Push(b.notes); err != nil {
		return nil, err
	}
	resp := t.Event.Holder().Response()
	released := task.New()
	go func() {
		<-resp.Done()
		released.Resolve(nil)
	}()
	if _, err := t.Event.WaitUntil(released); err != nil {
		return nil, err
	}
	return nil, nil
}

func (b *Board) post(t *router.Tick) (any, error) {
	if len(t.Remaining()) > 0 {
		return t.Next("", nil)
	}
	r := t.Event.Request()
	if r == nil || r.Body == nil {
		return jsonReply(http.StatusBadRequest, errorBody("missing body")), nil
	}
	var in struct {
		Text   string `json:"text"`
		Author string `json:"author"`
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxNoteBytes))
	if err := dec.Decode(&in); err != nil {
		return jsonReply(http.StatusBadRequest, errorBody("invalid JSON")), nil
	}
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" {
		return jsonReply(http.StatusBadRequest, errorBody("text is required")), nil
	}

	note := Note{
		ID:     uuid.NewString(),
		Text:   in.Text,
		Author: in.Author,
		At:     time.Now().UTC(),
	}
	if note.Author == "" {
		note.Author = UserID(r)
	}
	if err := b.Publish(note); err != nil {
		return nil, err
	}
	t.Event.Logger().Info("note posted", "id", note.ID)
	return jsonReply(http.StatusAccepted, note), nil
}

// noteParams names the note a /board/{id} request addresses.
type noteParams struct {
	ID uuid.UUID `wild:"0"`
}

func (b *Board) note(t *router.Tick) (any, error) {
	var p noteParams
	if err := router.Bind(t, &p); err != nil {
		return nil, nil
	}
	n, ok := b.Find(p.ID.String())
	if !ok {
		return nil, nil
	}
	return n, nil
}

func (b *Board) remove(t *router.Tick) (any, error) {
	var p noteParams
	if err := router.Bind(t, &p); err != nil {
		return nil, nil
	}
	id := p.ID.String()
	if _, ok := b.Find(id); !ok {
		return nil, nil
	}
	if err := b.Retract(id); err != nil {
		return nil, err
	}
	return jsonReply(http.StatusAccepted, map[string]string{"id": id}), nil
}

// clock streams n frames, one per clock interval, as a generator-driven
// live response.
func (b *Board) clock(t *router.Tick) (any, error) {
	p := struct {
		N int `query:"n"`
	}{N: 10}
	if err := router.Bind(t, &p); err != nil || p.N < 1 || p.N > maxClockTicks {
		return jsonReply(http.StatusBadRequest, errorBody("n must be between 1 and 60")), nil
	}
	n := p.N

	i := 0
	seq := live.SequenceFunc(func(ctx context.Context) (live.Item, bool, error) {
		if i > 0 {
			timer := time.NewTimer(b.clockInterval)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return live.Item{}, false, ctx.Err()
			}
		}
		i++
		return live.Item{
			Value:   map[string]any{"tick": i, "of": n, "time": time.Now().UTC().Format(time.RFC3339Nano)},
			Options: live.Options{Done: i == n},
		}, true, nil
	})
	return live.New(t.Context(), seq, live.WithLogger(t.Event.Logger()))
}

// me counts the visits of the user named by HeaderUser.
func (b *Board) me(t *router.Tick) (any, error) {
	user := t.Event.Stores().User
	var visits int
	if _, err := user.Get("visits", &visits); err != nil {
		return nil, err
	}
	visits++
	if err := user.Set("visits", visits); err != nil {
		return nil, err
	}
	return map[string]any{"user": UserID(t.Event.Request()), "visits": visits}, nil
}

func query(t *router.Tick) url.Values {
	q, _ := url.ParseQuery(t.Query)
	return q
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// jsonReply builds a finished response with an explicit status.
func jsonReply(status int, v any) *http.Response {
	data, _ := json.Marshal(v)
	return &http.Response{
		StatusCode:    status,
		Header:        http.Header{"Content-Type": {"application/json"}},
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
	}
}
