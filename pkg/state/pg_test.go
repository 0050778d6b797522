package state

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPGBackend(t *testing.T) {
	url := os.Getenv("LIVEROUTE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LIVEROUTE_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPGPool(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	b := NewPGBackend(pool, WithTable("liveroute_state_test"))
	defer b.Close()

	if err := b.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE liveroute_state_test`); err != nil {
		t.Fatal(err)
	}

	if err := b.Save(ctx, "u1", []byte(`{"a":1}`), time.Time{}); err != nil {
		t.Fatal(err)
	}
	if err := b.Save(ctx, "u1", []byte(`{"a":2}`), time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	got, err := b.Load(ctx, "u1")
	if err != nil || string(got) != `{"a": 2}` && string(got) != `{"a":2}` {
		t.Errorf("Load = %s, %v", got, err)
	}

	_ = b.Save(ctx, "old", []byte(`{}`), time.Now().Add(-time.Minute))
	if got, _ := b.Load(ctx, "old"); got != nil {
		t.Error("expired row should not load")
	}

	if err := b.Delete(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if got, err := b.Load(ctx, "u1"); got != nil || err != nil {
		t.Errorf("Load after Delete = %s, %v", got, err)
	}
}
