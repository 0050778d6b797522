package messaging

import (
	"testing"
	"time"
)

const testTimeout = 2 * time.Second

func collect(p Port, opts ...ListenOption) (<-chan Message, func()) {
	ch := make(chan Message, 64)
	off := p.Subscribe(func(m Message) { ch <- m }, opts...)
	return ch, off
}

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func expectNone(t *testing.T, ch <-chan Message) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected message: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitClosed(t *testing.T, p Port) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for port to close")
	}
}

func waitOpen(t *testing.T, p Port) {
	t.Helper()
	opened := make(chan struct{})
	p.On(EventOpen, func() { close(opened) }, Once())
	select {
	case <-opened:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for port to open")
	}
}
