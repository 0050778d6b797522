package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store is a key/value bag loaded from a Backend. Writes stay local until
// Commit. It is safe for concurrent use.
type Store struct {
	id      string
	backend Backend
	ttl     time.Duration

	mu        sync.Mutex
	values    map[string]json.RawMessage
	dirty     bool
	destroyed bool
}

// Open loads the store for id. A missing record yields an empty store. With
// a zero ttl the record never expires.
func Open(ctx context.Context, backend Backend, id string, ttl time.Duration) (*Store, error) {
	s := &Store{
		id:      id,
		backend: backend,
		ttl:     ttl,
		values:  make(map[string]json.RawMessage),
	}
	data, err := backend.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("state: load %s: %w", id, err)
	}
	if data == nil {
		return s, nil
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", id, err)
	}
	for k, v := range rec.Values {
		s.values[k] = v
	}
	return s, nil
}

// ID returns the record id.
func (s *Store) ID() string {
	return s.id
}

// Get decodes the value for key into dst and reports whether it exists.
func (s *Store) Get(key string, dst any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

// Value returns the value for key as a plain value.
func (s *Store) Value(key string) (any, bool) {
	var v any
	ok, err := s.Get(key, &v)
	if err != nil {
		return nil, false
	}
	return v, ok
}

// Set stores v under key.
func (s *Store) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = raw
	s.dirty = true
	s.destroyed = false
	return nil
}

// Delete removes key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Destroy clears the store; Commit then deletes the record.
func (s *Store) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]json.RawMessage)
	s.destroyed = true
	s.dirty = false
}

// Dirty reports whether there are uncommitted changes.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty || s.destroyed
}

// Commit writes pending changes to the backend. A clean store is not
// written.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.destroyed = false
		s.mu.Unlock()
		return s.backend.Delete(ctx, s.id)
	}
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	rec := &record{
		ID:        s.id,
		Values:    make(map[string]json.RawMessage, len(s.values)),
		UpdatedAt: time.Now().UTC(),
	}
	for k, v := range s.values {
		rec.Values[k] = v
	}
	s.dirty = false
	s.mu.Unlock()

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = time.Now().Add(s.ttl)
	}
	if err := s.backend.Save(ctx, s.id, data, expiresAt); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	return nil
}
