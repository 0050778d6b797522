package state

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestStoreCommitAndReload(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	s, err := Open(ctx, b, "u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if s.Dirty() {
		t.Error("fresh store should be clean")
	}
	if err := s.Set("name", "ann"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("visits", 3); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 0 {
		t.Fatal("Set must not write before Commit")
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Dirty() {
		t.Error("store should be clean after Commit")
	}

	again, err := Open(ctx, b, "u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	var name string
	if ok, err := again.Get("name", &name); !ok || err != nil || name != "ann" {
		t.Errorf("Get(name) = %q, %v, %v", name, ok, err)
	}
	if v, ok := again.Value("visits"); !ok || v != float64(3) {
		t.Errorf("Value(visits) = %v, %v", v, ok)
	}
	if got := again.Keys(); !reflect.DeepEqual(got, []string{"name", "visits"}) {
		t.Errorf("Keys() = %v", got)
	}
}

func TestStoreDestroy(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	s, _ := Open(ctx, b, "u1", 0)
	_ = s.Set("a", 1)
	_ = s.Commit(ctx)

	s.Destroy()
	if !s.Dirty() {
		t.Error("destroyed store should report pending changes")
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d after destroy commit, want 0", b.Len())
	}
}

type failingBackend struct {
	*MemoryBackend
	err error
}

func (f *failingBackend) Save(context.Context, string, []byte, time.Time) error {
	return f.err
}

func TestStoreCommitFailureKeepsChanges(t *testing.T) {
	boom := errors.New("boom")
	b := &failingBackend{MemoryBackend: NewMemoryBackend(), err: boom}
	defer b.Close()
	ctx := context.Background()

	s, _ := Open(ctx, b, "u1", 0)
	_ = s.Set("a", 1)
	if err := s.Commit(ctx); !errors.Is(err, boom) {
		t.Fatalf("Commit err = %v, want boom", err)
	}
	if !s.Dirty() {
		t.Error("failed commit should leave the store dirty")
	}
}

func TestOpenCorruptRecord(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	ctx := context.Background()
	_ = b.Save(ctx, "bad", []byte("{"), time.Time{})

	if _, err := Open(ctx, b, "bad", 0); err == nil {
		t.Error("expected decode error")
	}
}
