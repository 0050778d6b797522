package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vango-dev/liveroute/pkg/routepath"
)

// Wildcard is the reserved segment name matching any single segment that
// has no exact entry of its own.
const Wildcard = "-"

// DefaultVerb selects the handler used when an entry has none for the
// request method.
const DefaultVerb = "default"

// Entry maps verbs to handlers for one route path.
type Entry struct {
	// Handlers is keyed by HTTP method or DefaultVerb.
	Handlers map[string]Handler

	// Middleware wraps the selected handler, outermost first.
	Middleware []Middleware
}

// handler returns the first handler registered for verbs.
func (e *Entry) handler(verbs ...string) Handler {
	for _, v := range verbs {
		if h, ok := e.Handlers[v]; ok && h != nil {
			return h
		}
	}
	return nil
}

// Loader resolves a lazily registered entry on first use.
type Loader func(ctx context.Context) (*Entry, error)

type slot struct {
	mu    sync.Mutex
	load  Loader
	entry *Entry
}

// get resolves the slot. A failed load is retried by the next caller.
func (s *slot) get(ctx context.Context) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != nil || s.load == nil {
		return s.entry, nil
	}
	e, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if e == nil {
		e = &Entry{}
	}
	s.entry = e
	return e, nil
}

// Table is a directory-shaped route table keyed by canonical path. It is
// safe for concurrent lookups; registration should finish before routing.
type Table struct {
	mu    sync.RWMutex
	slots map[string]*slot
	dirs  map[string]int
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		slots: make(map[string]*slot),
		dirs:  make(map[string]int),
	}
}

// TableFrom builds a table from a path-keyed map. Values may be *Entry,
// Entry, Loader, a func(context.Context) (*Entry, error), map[string]Handler,
// Handler or a func(*Tick) (any, error) registered for DefaultVerb.
func TableFrom(routes map[string]any) (*Table, error) {
	t := NewTable()
	for path, v := range routes {
		var err error
		switch v := v.(type) {
		case *Entry:
			err = t.Add(path, v)
		case Entry:
			err = t.Add(path, &v)
		case Loader:
			err = t.AddLazy(path, v)
		case func(context.Context) (*Entry, error):
			err = t.AddLazy(path, v)
		case map[string]Handler:
			err = t.Add(path, &Entry{Handlers: v})
		case Handler:
			err = t.Handle(path, DefaultVerb, v)
		case func(*Tick) (any, error):
			err = t.Handle(path, DefaultVerb, v)
		default:
			err = fmt.Errorf("router: unsupported route value %T for %q", v, path)
		}
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add registers entry at path, replacing any previous one.
func (t *Table) Add(path string, entry *Entry) error {
	return t.put(path, &slot{entry: entry})
}

// AddLazy registers an entry resolved by load on first lookup.
func (t *Table) AddLazy(path string, load Loader) error {
	return t.put(path, &slot{load: load})
}

// Handle registers h for verb at path, creating the entry if needed.
func (t *Table) Handle(path, verb string, h Handler) error {
	segs, _, err := routepath.Segments(path)
	if err != nil {
		return err
	}
	key := tableKey(segs)

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[key]
	if !ok {
		s = &slot{entry: &Entry{}}
		t.insertLocked(segs, s)
	}
	if s.load != nil {
		return fmt.Errorf("router: %q is registered lazily", path)
	}
	if s.entry.Handlers == nil {
		s.entry.Handlers = make(map[string]Handler)
	}
	s.entry.Handlers[verb] = h
	return nil
}

func (t *Table) put(path string, s *slot) error {
	segs, _, err := routepath.Segments(path)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertLocked(segs, s)
	return nil
}

func (t *Table) insertLocked(segs []string, s *slot) {
	key := tableKey(segs)
	if _, ok := t.slots[key]; !ok {
		for i := 0; i < len(segs); i++ {
			t.dirs[tableKey(segs[:i])]++
		}
	}
	t.slots[key] = s
}

// lookup returns the entry at segs, loading it if lazy. A missing entry
// yields nil.
func (t *Table) lookup(ctx context.Context, segs []string) (*Entry, error) {
	t.mu.RLock()
	s := t.slots[tableKey(segs)]
	t.mu.RUnlock()
	if s == nil {
		return nil, nil
	}
	return s.get(ctx)
}

// exists reports whether segs has an entry or entries below it.
func (t *Table) exists(segs []string) bool {
	key := tableKey(segs)
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, entry := t.slots[key]
	return entry || t.dirs[key] > 0
}

// Paths returns the registered paths in sorted order.
func (t *Table) Paths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	paths := make([]string, 0, len(t.slots))
	for k := range t.slots {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

func tableKey(segs []string) string {
	return "/" + strings.Join(segs, "/")
}

// with returns a copy of segs with s appended.
func with(segs []string, s string) []string {
	out := make([]string, len(segs), len(segs)+1)
	copy(out, segs)
	return append(out, s)
}
