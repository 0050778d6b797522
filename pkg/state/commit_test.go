package state

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"
)

// orderBackend logs each Save under its name into a shared journal.
type orderBackend struct {
	*MemoryBackend
	name    string
	journal *journal
	header  http.Header
	err     error
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (b *orderBackend) Save(ctx context.Context, id string, data []byte, exp time.Time) error {
	entry := b.name
	if len(b.header.Values("Set-Cookie")) > 0 {
		entry += "+cookies"
	}
	b.journal.add(entry)
	if b.err != nil {
		return b.err
	}
	return b.MemoryBackend.Save(ctx, id, data, exp)
}

func newOrderStore(t *testing.T, name string, j *journal, h http.Header, err error) *Store {
	t.Helper()
	b := &orderBackend{MemoryBackend: NewMemoryBackend(), name: name, journal: j, header: h, err: err}
	t.Cleanup(func() { b.Close() })
	s, oerr := Open(context.Background(), b, name+"-1", 0)
	if oerr != nil {
		t.Fatal(oerr)
	}
	_ = s.Set("k", name)
	return s
}

func TestStoresCommitOrder(t *testing.T) {
	h := http.Header{}
	j := &journal{}
	cookies := NewCookies(nil)
	cookies.Set(&http.Cookie{Name: "a", Value: "1"})

	stores := &Stores{
		Cookies: cookies,
		Session: newOrderStore(t, "session", j, h, nil),
		User:    newOrderStore(t, "user", j, h, nil),
	}
	if err := stores.Commit(context.Background(), h); err != nil {
		t.Fatal(err)
	}
	want := []string{"session+cookies", "user+cookies"}
	if !reflect.DeepEqual(j.entries, want) {
		t.Errorf("commit order = %v, want %v", j.entries, want)
	}
}

func TestStoresCommitStopsAtFirstError(t *testing.T) {
	h := http.Header{}
	j := &journal{}
	boom := errors.New("boom")
	stores := &Stores{
		Session: newOrderStore(t, "session", j, h, boom),
		User:    newOrderStore(t, "user", j, h, nil),
	}
	if err := stores.Commit(context.Background(), h); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if !reflect.DeepEqual(j.entries, []string{"session"}) {
		t.Errorf("journal = %v, user store should not commit", j.entries)
	}
}

func TestStoresCommitNil(t *testing.T) {
	var s *Stores
	if err := s.Commit(context.Background(), http.Header{}); err != nil {
		t.Error(err)
	}
	if err := (&Stores{}).Commit(context.Background(), http.Header{}); err != nil {
		t.Error(err)
	}
}
