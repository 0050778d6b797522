package state

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps records in process memory. Expired records are
// dropped on read and by a periodic sweep.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*storedRecord
	closed  bool
	done    chan struct{}
}

type storedRecord struct {
	data      []byte
	expiresAt time.Time
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval sets how often expired records are swept.
// Default: 1 minute.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(c *memoryConfig) {
		c.cleanupInterval = d
	}
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	cfg := &memoryConfig{cleanupInterval: time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}
	m := &MemoryBackend{
		records: make(map[string]*storedRecord),
		done:    make(chan struct{}),
	}
	go m.cleanupLoop(cfg.cleanupInterval)
	return m
}

// Save stores a copy of data.
func (m *MemoryBackend) Save(_ context.Context, id string, data []byte, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrBackendClosed
	}
	m.records[id] = &storedRecord{data: append([]byte(nil), data...), expiresAt: expiresAt}
	return nil
}

// Load returns a copy of the record for id.
func (m *MemoryBackend) Load(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrBackendClosed
	}
	r, ok := m.records[id]
	if !ok || (!r.expiresAt.IsZero() && time.Now().After(r.expiresAt)) {
		return nil, nil
	}
	return append([]byte(nil), r.data...), nil
}

// Delete removes id.
func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrBackendClosed
	}
	delete(m.records, id)
	return nil
}

// Close stops the sweep and drops all records.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.records = nil
	return nil
}

// Len returns the number of stored records.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryBackend) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryBackend) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	now := time.Now()
	for id, r := range m.records {
		if !r.expiresAt.IsZero() && now.After(r.expiresAt) {
			delete(m.records, id)
		}
	}
}
