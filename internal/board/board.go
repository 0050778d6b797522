// Package board is the application served by cmd/liveroute: a shared note
// board whose state is replicated to every live subscriber.
//
// Writes never touch the board directly. POST and DELETE publish on the
// bus, and the board applies what it receives back, so several server
// processes sharing a NATS subject converge on the same notes.
package board

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/liveroute/pkg/messaging"
	"github.com/vango-dev/liveroute/pkg/mutation"
)

// Bus message types.
const (
	TypeNote   = "board.note"
	TypeRemove = "board.remove"
)

// Note is one entry on the board.
type Note struct {
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	Author string    `json:"author,omitempty"`
	At     time.Time `json:"at"`
}

// Board holds the shared notes object.
type Board struct {
	notes *mutation.Object
	out   messaging.Port
	in    messaging.Port

	clockInterval time.Duration
	maxNotes      int
	logger        *slog.Logger

	closeOnce sync.Once
	off       []func()
}

// Option configures a Board.
type Option func(*Board)

// WithLogger sets the board logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Board) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClockInterval sets the pace of /clock frames. Default: 1 second.
func WithClockInterval(d time.Duration) Option {
	return func(b *Board) { b.clockInterval = d }
}

// WithMaxNotes caps the board; the oldest note is dropped beyond it.
// Default: 100.
func WithMaxNotes(n int) Option {
	return func(b *Board) { b.maxNotes = n }
}

// New returns a board publishing writes on out and applying those received
// on in. out and in may be the same port.
func New(out, in messaging.Port, opts ...Option) *Board {
	b := &Board{
		notes:         mutation.MustObject(map[string]any{"notes": []any{}}),
		out:           out,
		in:            in,
		clockInterval: time.Second,
		maxNotes:      100,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "board")

	b.off = append(b.off,
		in.Subscribe(b.receiveNote, messaging.ForType(TypeNote)),
		in.Subscribe(b.receiveRemove, messaging.ForType(TypeRemove)),
	)
	return b
}

// LocalBus returns an in-process bus: what is posted on out arrives on in.
func LocalBus(logger *slog.Logger) (out, in messaging.Port) {
	a, b := messaging.NewChannel(logger)
	return a, b
}

// Notes returns the live notes object.
func (b *Board) Notes() *mutation.Object {
	return b.notes
}

// List returns a copy of the current notes, oldest first.
func (b *Board) List() []Note {
	v, _ := b.notes.Get("notes")
	var notes []Note
	if err := convert(v, &notes); err != nil {
		b.logger.Warn("board holds malformed notes", "error", err)
	}
	return notes
}

// Find returns the note with id.
func (b *Board) Find(id string) (Note, bool) {
	for _, n := range b.List() {
		if n.ID == id {
			return n, true
		}
	}
	return Note{}, false
}

// Publish sends note to every board on the bus.
func (b *Board) Publish(note Note) error {
	return b.out.PostMessage(note, messaging.WithType(TypeNote))
}

// Retract asks every board on the bus to drop the note with id.
func (b *Board) Retract(id string) error {
	return b.out.PostMessage(map[string]any{"id": id}, messaging.WithType(TypeRemove))
}

// Close detaches the board from the bus and ends replication of its notes.
func (b *Board) Close() {
	b.closeOnce.Do(func() {
		for _, off := range b.off {
			off()
		}
		b.notes.Done()
	})
}

func (b *Board) receiveNote(msg messaging.Message) {
	var note Note
	if err := convert(msg.Data, &note); err != nil || note.ID == "" {
		b.logger.Warn("dropping malformed note", "error", err)
		return
	}
	entry := map[string]any{}
	if err := convert(note, &entry); err != nil {
		b.logger.Warn("dropping malformed note", "error", err)
		return
	}

	err := b.notes.Batch(func(tx *mutation.Tx) error {
		if index(tx, note.ID) >= 0 {
			return nil
		}
		if _, err := tx.Call([]string{"notes"}, mutation.MethodPush, entry); err != nil {
			return err
		}
		if v, ok := tx.Get("notes"); ok && b.maxNotes > 0 {
			if arr, ok := v.([]any); ok && len(arr) > b.maxNotes {
				_, err := tx.Call([]string{"notes"}, mutation.MethodShift)
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.logger.Error("add note", "id", note.ID, "error", err)
		return
	}
	b.logger.Debug("note added", "id", note.ID)
}

func (b *Board) receiveRemove(msg messaging.Message) {
	var req struct {
		ID string `json:"id"`
	}
	if err := convert(msg.Data, &req); err != nil || req.ID == "" {
		b.logger.Warn("dropping malformed removal", "error", err)
		return
	}

	err := b.notes.Batch(func(tx *mutation.Tx) error {
		i := index(tx, req.ID)
		if i < 0 {
			return nil
		}
		_, err := tx.Call([]string{"notes"}, mutation.MethodSplice, i, 1)
		return err
	})
	if err != nil {
		b.logger.Error("remove note", "id", req.ID, "error", err)
		return
	}
	b.logger.Debug("note removed", "id", req.ID)
}

// index returns the position of the note with id, or -1.
func index(tx *mutation.Tx, id string) int {
	v, ok := tx.Get("notes")
	if !ok {
		return -1
	}
	arr, _ := v.([]any)
	for i, item := range arr {
		if m, ok := item.(map[string]any); ok && m["id"] == id {
			return i
		}
	}
	return -1
}

// convert re-encodes v into dst through JSON, the form bus payloads take
// on the wire.
func convert(v, dst any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("board: encode: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("board: decode: %w", err)
	}
	return nil
}
