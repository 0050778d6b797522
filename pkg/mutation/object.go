package mutation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// Observer receives each batch of records in mutation order. The slice is
// shared between observers and must not be modified. Observers must not
// mutate the Object they observe from inside the callback.
type Observer func(records []Record)

type observerEntry struct {
	id uint64
	fn Observer
}

// Object is an observable plain value tree. It is the single mutation
// authority for its tree: all writes go through it and every write is
// reported to observers as one ordered batch.
type Object struct {
	// emitMu serialises write+delivery so observers see batches in order.
	emitMu sync.Mutex

	mu        sync.RWMutex
	root      any
	observers []observerEntry
	nextID    uint64
	closed    bool
}

// NewObject wraps a copy of v, which must normalise to a map or array.
func NewObject(v any) (*Object, error) {
	root, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	if !IsPlain(root) {
		return nil, fmt.Errorf("mutation: object root must be a map or array, got %T", root)
	}
	return &Object{root: root}, nil
}

// MustObject is like NewObject but panics on error.
func MustObject(v any) *Object {
	o, err := NewObject(v)
	if err != nil {
		panic(err)
	}
	return o
}

// Observe registers fn for every future batch. The returned function
// removes it and is safe to call more than once.
func (o *Object) Observe(fn Observer) (cancel func()) {
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.observers = append(o.observers, observerEntry{id: id, fn: fn})
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, e := range o.observers {
			if e.id == id {
				o.observers = append(o.observers[:i:i], o.observers[i+1:]...)
				return
			}
		}
	}
}

// Track registers fn like Observe and hands start a snapshot taken at the
// same instant, so the snapshot plus every batch fn later receives describes
// the tree exactly. No batch is delivered until start returns; start must
// not write to o. If start fails, fn is removed again.
func (o *Object) Track(start func(snapshot any) error, fn Observer) (cancel func(), err error) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.RLock()
	snapshot := Clone(o.root)
	o.mu.RUnlock()

	cancel = o.Observe(fn)
	if err := start(snapshot); err != nil {
		cancel()
		return nil, err
	}
	return cancel, nil
}

// Observers returns the number of registered observers.
func (o *Object) Observers() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.observers)
}

// Get returns a copy of the value at path.
func (o *Object) Get(path ...string) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := Get(o.root, path)
	if !ok {
		return nil, false
	}
	return Clone(v), true
}

// Snapshot returns a deep copy of the whole tree.
func (o *Object) Snapshot() any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Clone(o.root)
}

// MarshalJSON encodes the current snapshot.
func (o *Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Snapshot())
}

// Set assigns v at path.
func (o *Object) Set(path []string, v any) error {
	return o.Batch(func(tx *Tx) error { return tx.Set(path, v) })
}

// Delete removes the key or index at path.
func (o *Object) Delete(path []string) error {
	return o.Batch(func(tx *Tx) error { return tx.Delete(path) })
}

// Call invokes an array method on the array at path and returns its result.
func (o *Object) Call(path []string, method string, args ...any) (any, error) {
	var result any
	err := o.Batch(func(tx *Tx) error {
		var err error
		result, err = tx.Call(path, method, args...)
		return err
	})
	return result, err
}

// Assign replaces the subtree at path with v, emitting only the differences.
func (o *Object) Assign(path []string, v any) error {
	return o.Batch(func(tx *Tx) error { return tx.Assign(path, v) })
}

// Done emits an end-of-frame marker. The tree stays writable.
func (o *Object) Done() error {
	return o.Batch(func(tx *Tx) error {
		tx.Done()
		return nil
	})
}

// Batch runs fn with a transaction and delivers everything it recorded as a
// single batch. Writes made before fn returns an error are still delivered.
func (o *Object) Batch(fn func(tx *Tx) error) error {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	tx := &Tx{root: o.root}
	err := fn(tx)
	o.root = tx.root
	observers := append([]observerEntry(nil), o.observers...)
	o.mu.Unlock()

	deliver(observers, tx.records)
	return err
}

// ApplyBatch replays records received from another authority. The batch is
// applied atomically and then re-emitted to local observers.
func (o *Object) ApplyBatch(records []Record) error {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	root, err := Apply(o.root, records)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.root = root
	observers := append([]observerEntry(nil), o.observers...)
	o.mu.Unlock()

	deliver(observers, records)
	return nil
}

// Close drops all observers and rejects further writes.
func (o *Object) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.observers = nil
}

func deliver(observers []observerEntry, records []Record) {
	if len(records) == 0 {
		return
	}
	for _, e := range observers {
		e.fn(records)
	}
}

// Tx accumulates writes for one batch. It is only valid inside Batch.
type Tx struct {
	root    any
	records []Record
}

// Get reads the value at path as seen by the transaction.
func (tx *Tx) Get(path ...string) (any, bool) {
	return Get(tx.root, path)
}

// Set assigns v at path.
func (tx *Tx) Set(path []string, v any) error {
	nv, err := Normalize(v)
	if err != nil {
		return err
	}
	root, err := setIn(tx.root, path, nv)
	if err != nil {
		return err
	}
	tx.root = root
	tx.records = append(tx.records, setRecord(copyPath(path), nv))
	return nil
}

// Delete removes the key or index at path.
func (tx *Tx) Delete(path []string) error {
	root, err := deleteIn(tx.root, path)
	if err != nil {
		return err
	}
	tx.root = root
	tx.records = append(tx.records, Record{Path: copyPath(path), Op: OpDelete})
	return nil
}

// Call invokes an array method. It records the call itself followed by the
// per-index changes it caused, flagged Derived.
func (tx *Tx) Call(path []string, method string, args ...any) (any, error) {
	target, ok := Get(tx.root, path)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, path)
	}
	prev, ok := target.([]any)
	if !ok {
		return nil, ErrNotArray
	}

	normArgs := make([]any, len(args))
	for i, a := range args {
		na, err := Normalize(a)
		if err != nil {
			return nil, err
		}
		normArgs[i] = na
	}

	updated, result, err := callArray(prev, method, normArgs)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		tx.root = updated
	} else {
		root, err := setIn(tx.root, path, updated)
		if err != nil {
			return nil, err
		}
		tx.root = root
	}

	p := copyPath(path)
	tx.records = append(tx.records, Record{Path: p, Op: OpCall, Method: method, Args: Clone(normArgs).([]any)})
	tx.records = append(tx.records, indexDiff(p, prev, updated)...)
	return result, nil
}

// Assign replaces the subtree at path with v, recording only differences.
func (tx *Tx) Assign(path []string, v any) error {
	nv, err := Normalize(v)
	if err != nil {
		return err
	}
	prev, ok := Get(tx.root, path)
	if !ok {
		return tx.Set(path, nv)
	}
	for _, r := range Diff(copyPath(path), prev, nv) {
		root, err := applyOne(tx.root, r)
		if err != nil {
			return err
		}
		tx.root = root
		tx.records = append(tx.records, r)
	}
	return nil
}

// Done flags the batch as the last of its frame.
func (tx *Tx) Done() {
	tx.records = append(tx.records, Record{Op: OpEnd, Detail: Detail{Done: true}})
}

// indexDiff compares two arrays index by index without descending into
// elements, so every record it returns is addressed to a direct index.
func indexDiff(path []string, prev, next []any) []Record {
	var out []Record
	for i := range next {
		if i < len(prev) && Equal(prev[i], next[i]) {
			continue
		}
		out = append(out, Record{
			Path:   appendPath(path, strconv.Itoa(i)),
			Op:     OpSet,
			Value:  Clone(next[i]),
			Detail: Detail{Derived: true},
		})
	}
	if len(next) != len(prev) {
		out = append(out, Record{
			Path:   appendPath(path, "length"),
			Op:     OpSet,
			Value:  len(next),
			Detail: Detail{Derived: true},
		})
	}
	return out
}

// Equal deep-compares two plain values.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	default:
		if IsPlain(b) {
			return false
		}
		return scalarEqual(a, b)
	}
}

func copyPath(path []string) []string {
	if path == nil {
		return nil
	}
	out := make([]string, len(path))
	copy(out, path)
	return out
}
