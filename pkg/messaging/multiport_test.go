package messaging

import (
	"testing"
)

type pair struct {
	local, remote *LocalPort
	inbox         <-chan Message
}

func newPairs(t *testing.T, n int) []pair {
	t.Helper()
	out := make([]pair, n)
	for i := range out {
		local, remote := NewChannel(nil)
		inbox, _ := collect(remote)
		out[i] = pair{local: local, remote: remote, inbox: inbox}
		t.Cleanup(func() { local.Close() })
	}
	return out
}

func TestMultiport_BroadcastExcept(t *testing.T) {
	pairs := newPairs(t, 3)
	m := NewMultiport(nil, pairs[0].local, pairs[1].local, pairs[2].local)
	defer m.Close()

	if err := m.PostMessage("hello", Except(pairs[1].local)); err != nil {
		t.Fatalf("PostMessage() error: %v", err)
	}
	if got := recv(t, pairs[0].inbox); got.Data != "hello" {
		t.Fatalf("member 0 got %v", got.Data)
	}
	if got := recv(t, pairs[2].inbox); got.Data != "hello" {
		t.Fatalf("member 2 got %v", got.Data)
	}
	expectNone(t, pairs[1].inbox)
}

func TestMultiport_RebroadcastSkipsOrigin(t *testing.T) {
	pairs := newPairs(t, 3)
	m := NewMultiport(nil, pairs[0].local, pairs[1].local, pairs[2].local)
	defer m.Close()

	m.Subscribe(func(msg Message) {
		m.PostMessage(msg.Data, Except(msg.Origin))
	})

	pairs[0].remote.PostMessage("from zero")

	if got := recv(t, pairs[1].inbox); got.Data != "from zero" {
		t.Fatalf("member 1 got %v", got.Data)
	}
	if got := recv(t, pairs[2].inbox); got.Data != "from zero" {
		t.Fatalf("member 2 got %v", got.Data)
	}
	expectNone(t, pairs[0].inbox)
}

func TestMultiport_OpenStateFollowsMembers(t *testing.T) {
	pairs := newPairs(t, 2)
	m := NewMultiport(nil, pairs[0].local, pairs[1].local)
	defer m.Close()

	if !m.IsOpen() {
		t.Fatal("multiport with open members should be open")
	}

	closed := make(chan struct{})
	m.On(EventClose, func() { close(closed) }, Once())

	pairs[0].remote.Close()
	waitClosed(t, pairs[0].local)
	if !m.IsOpen() {
		t.Fatal("multiport closed while a member is still open")
	}

	pairs[1].remote.Close()
	waitClosed(t, pairs[1].local)
	<-closed
	if m.IsOpen() || m.Len() != 0 {
		t.Fatalf("IsOpen=%v Len=%d after all members closed", m.IsOpen(), m.Len())
	}

	fresh, _ := NewChannel(nil)
	defer fresh.Close()
	m.Add(fresh)
	if !m.IsOpen() {
		t.Fatal("multiport should reopen when a member joins")
	}
}

func TestMultiport_CloseIsFinal(t *testing.T) {
	pairs := newPairs(t, 1)
	m := NewMultiport(nil, pairs[0].local)

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	waitClosed(t, m)
	if !pairs[0].local.IsOpen() {
		t.Fatal("Close should detach members without closing them")
	}

	fresh, _ := NewChannel(nil)
	defer fresh.Close()
	m.Add(fresh)
	if m.IsOpen() || m.Len() != 0 {
		t.Fatal("closed multiport accepted a member")
	}
	if err := m.PostMessage("x"); err == nil {
		t.Fatal("PostMessage on closed multiport should fail")
	}
}

func TestMultiport_TransferToManyUnsupported(t *testing.T) {
	pairs := newPairs(t, 2)
	m := NewMultiport(nil, pairs[0].local, pairs[1].local)
	defer m.Close()

	x, _ := NewChannel(nil)
	defer x.Close()
	if err := m.PostMessage("take", Transfer(x)); err != ErrTransferUnsupported {
		t.Fatalf("PostMessage(Transfer) error = %v, want ErrTransferUnsupported", err)
	}
}

func TestMultiport_BacklogFlushesToFirstMember(t *testing.T) {
	m := NewMultiport(nil)
	defer m.Close()
	m.SetBacklog(2)

	if err := m.PostMessage("one"); err != nil {
		t.Fatalf("PostMessage(one) error: %v", err)
	}
	if err := m.PostMessage("two"); err != nil {
		t.Fatalf("PostMessage(two) error: %v", err)
	}
	if err := m.PostMessage("three"); err != ErrBacklogFull {
		t.Fatalf("PostMessage(three) error = %v, want ErrBacklogFull", err)
	}

	pairs := newPairs(t, 2)
	m.Add(pairs[0].local)
	if got := recv(t, pairs[0].inbox); got.Data != "one" {
		t.Fatalf("first flushed = %v, want one", got.Data)
	}
	if got := recv(t, pairs[0].inbox); got.Data != "two" {
		t.Fatalf("second flushed = %v, want two", got.Data)
	}

	m.Add(pairs[1].local)
	expectNone(t, pairs[1].inbox)

	if err := m.PostMessage("live"); err != nil {
		t.Fatalf("PostMessage(live) error: %v", err)
	}
	for i, p := range pairs {
		if got := recv(t, p.inbox); got.Data != "live" {
			t.Fatalf("member %d got %v, want live", i, got.Data)
		}
	}
}
