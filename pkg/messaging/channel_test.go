package messaging

import (
	"context"
	"errors"
	"testing"

	lrerrors "github.com/vango-dev/liveroute/internal/errors"
)

func TestChannel_PostMessage(t *testing.T) {
	a, b := NewChannel(nil)
	defer a.Close()

	got, off := collect(b)
	defer off()

	data := map[string]any{"x": 1}
	if err := a.PostMessage(data, WithType("greet"), WithEventID("e1")); err != nil {
		t.Fatalf("PostMessage() error: %v", err)
	}
	data["x"] = 2

	m := recv(t, got)
	if m.Type != "greet" || m.EventID != "e1" {
		t.Fatalf("envelope = %+v, want type greet event e1", m)
	}
	if m.Data.(map[string]any)["x"] != 1 {
		t.Fatalf("data = %v, want receiver copy with x=1", m.Data)
	}
	if m.Origin != Port(b) {
		t.Fatal("Origin should be the receiving port")
	}
}

func TestChannel_OrderPreserved(t *testing.T) {
	a, b := NewChannel(nil)
	defer a.Close()

	got, off := collect(b)
	defer off()

	for i := 0; i < 20; i++ {
		a.PostMessage(i)
	}
	for i := 0; i < 20; i++ {
		if m := recv(t, got); m.Data != i {
			t.Fatalf("message %d = %v", i, m.Data)
		}
	}
}

func TestChannel_CloseClosesBoth(t *testing.T) {
	a, b := NewChannel(nil)

	closed := make(chan struct{})
	b.On(EventClose, func() { close(closed) }, Once())

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	waitClosed(t, a)
	waitClosed(t, b)
	<-closed

	if b.IsOpen() {
		t.Fatal("peer still open after close")
	}
	err := b.PostMessage("late")
	if lrerrors.CodeOf(err) != "T001" || !errors.Is(err, ErrPortClosed) {
		t.Fatalf("PostMessage after close = %v, want T001 wrapping ErrPortClosed", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}

func TestChannel_OnReplaysCurrentState(t *testing.T) {
	a, _ := NewChannel(nil)
	defer a.Close()

	calls := 0
	off := a.On(EventOpen, func() { calls++ })
	defer off()
	if calls != 1 {
		t.Fatalf("open listener calls = %d, want 1 for an already open port", calls)
	}

	a.On(EventOpen, func() { calls++ }, Once())
	if calls != 2 {
		t.Fatalf("once listener calls = %d, want 2", calls)
	}
}

func TestChannel_MessagingFiresOnFirstSend(t *testing.T) {
	a, _ := NewChannel(nil)
	defer a.Close()

	if a.IsMessaging() {
		t.Fatal("IsMessaging() before any send")
	}
	fired := 0
	a.On(EventMessaging, func() { fired++ })
	a.PostMessage("one")
	a.PostMessage("two")
	if fired != 1 || !a.IsMessaging() {
		t.Fatalf("messaging fired %d times, IsMessaging=%v", fired, a.IsMessaging())
	}
}

func TestSubscribe_Filters(t *testing.T) {
	a, b := NewChannel(nil)
	defer a.Close()

	typed, off1 := collect(b, ForType("ping"))
	defer off1()
	once, off2 := collect(b, Once())
	defer off2()

	a.PostMessage(1, WithType("other"))
	a.PostMessage(2, WithType("ping"))

	if m := recv(t, typed); m.Data != 2 {
		t.Fatalf("typed subscriber got %v", m.Data)
	}
	if m := recv(t, once); m.Data != 1 {
		t.Fatalf("once subscriber got %v", m.Data)
	}
	expectNone(t, once)
}

func TestRequestReply(t *testing.T) {
	a, b := NewChannel(nil)
	defer a.Close()

	off := b.Subscribe(func(m Message) {
		if m.Type == TypeReply {
			return
		}
		Reply(m, map[string]any{"echo": m.Data})
	})
	defer off()

	resp, err := Request(context.Background(), a, "hi")
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	if resp.Data.(map[string]any)["echo"] != "hi" {
		t.Fatalf("reply = %v", resp.Data)
	}
}

func TestRequest_PortClosed(t *testing.T) {
	a, b := NewChannel(nil)
	b.Subscribe(func(Message) { b.Close() })

	if _, err := Request(context.Background(), a, "hi"); !errors.Is(err, ErrPortClosed) {
		t.Fatalf("Request() error = %v, want ErrPortClosed", err)
	}
}
