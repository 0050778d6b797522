package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	lrerrors "github.com/vango-dev/liveroute/internal/errors"
	"github.com/vango-dev/liveroute/pkg/mutation"
	"github.com/vango-dev/liveroute/pkg/task"
)

// Response events.
const (
	EventReplace       = "replace"
	EventFrameDone     = "framedone"
	EventGeneratorDone = "generatordone"
	EventClose         = "close"
)

var (
	// ErrClosed is returned when replacing the body of a closed response.
	ErrClosed = errors.New("live: response closed")

	// ErrGeneratorDone is returned when replacing after the final snapshot.
	ErrGeneratorDone = errors.New("live: no further snapshots accepted")
)

// Options carry response metadata for a snapshot. Zero fields keep the
// previous value.
type Options struct {
	Status     int
	StatusText string
	Header     http.Header

	// Done marks the snapshot as the last one.
	Done bool
}

// Snapshot is the state handed to listeners.
type Snapshot struct {
	Body          any
	Status        int
	StatusText    string
	Header        http.Header
	Generation    uint64
	FrameDone     bool
	GeneratorDone bool

	// InPlace is set for replace events caused by a change inside the
	// current *mutation.Object body rather than by ReplaceWith.
	InPlace bool

	// frame is cancelled when the snapshot's frame ends.
	frame context.Context
}

// Listener receives response events.
type Listener func(Snapshot)

type listener struct {
	id uint64
	fn Listener
}

// Option configures New and FromResponse.
type Option func(*Response)

// WithStatus sets the initial status.
func WithStatus(code int, text string) Option {
	return func(r *Response) {
		r.status = code
		r.statusText = text
	}
}

// WithHeader sets the initial header.
func WithHeader(h http.Header) Option {
	return func(r *Response) { r.header = h.Clone() }
}

// Pending keeps a constant response open for later replacements.
func Pending() Option {
	return func(r *Response) { r.pending = true }
}

// Listen registers fn before the first snapshot is installed.
func Listen(event string, fn Listener) Option {
	return func(r *Response) { r.addListener(event, fn) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Response) {
		if l != nil {
			r.logger = l.With("component", "live")
		}
	}
}

// Response is a live response. It is safe for concurrent use.
type Response struct {
	ctx       context.Context
	cancel    context.CancelFunc
	stopAfter func() bool
	logger    *slog.Logger
	pending   bool

	// emitMu orders ReplaceWith calls and their replace events.
	emitMu sync.Mutex

	mu            sync.Mutex
	body          any
	status        int
	statusText    string
	header        http.Header
	generation    uint64
	frameDone     bool
	generatorDone bool
	closed        bool
	err           error
	frameCtx      context.Context
	stopFrame     func()
	listeners     map[string][]*listener
	nextID        uint64
	releases      []func()
	released      bool

	done     chan struct{}
	doneOnce sync.Once
}

func newResponse(ctx context.Context, opts []Option) *Response {
	if ctx == nil {
		ctx = context.Background()
	}
	r := &Response{
		logger:    slog.Default().With("component", "live"),
		status:    http.StatusOK,
		header:    make(http.Header),
		listeners: make(map[string][]*listener),
		done:      make(chan struct{}),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.frameCtx = r.ctx
	r.stopFrame = func() {}
	for _, opt := range opts {
		opt(r)
	}
	r.stopAfter = context.AfterFunc(ctx, func() { r.Close() })
	return r
}

// New builds a Response from value: a constant, an *http.Response, a
// Sequence or a *mutation.Object. Cancelling ctx closes the response.
func New(ctx context.Context, value any, opts ...Option) (*Response, error) {
	switch v := value.(type) {
	case *http.Response:
		return FromResponse(ctx, v, nil, opts...)
	case Sequence:
		r := newResponse(ctx, opts)
		if err := r.startSequence(v); err != nil {
			r.Close()
			return nil, err
		}
		return r, nil
	case *mutation.Object:
		r := newResponse(ctx, opts)
		if err := r.ReplaceWith(v, Options{}, nil); err != nil {
			return nil, err
		}
		return r, nil
	default:
		r := newResponse(ctx, opts)
		if err := r.ReplaceWith(v, Options{Done: !r.pending}, nil); err != nil {
			return nil, err
		}
		return r, nil
	}
}

// startSequence installs the first item synchronously and pulls the rest in
// the background.
func (r *Response) startSequence(seq Sequence) error {
	item, ok, err := seq.Next(r.ctx)
	if err != nil {
		stopSequence(seq)
		return err
	}
	if !ok {
		stopSequence(seq)
		return r.ReplaceWith(nil, Options{Done: true}, nil)
	}
	if err := r.ReplaceWith(item.Value, item.Options, nil); err != nil {
		stopSequence(seq)
		return err
	}
	if item.Options.Done {
		stopSequence(seq)
		return nil
	}
	go r.pull(seq)
	return nil
}

func (r *Response) pull(seq Sequence) {
	defer stopSequence(seq)
	for {
		if r.ctx.Err() != nil {
			return
		}
		item, ok, err := seq.Next(r.ctx)
		if err != nil {
			if r.ctx.Err() == nil {
				r.fail(err)
			}
			return
		}
		if !ok {
			r.Finish()
			return
		}
		if err := r.ReplaceWith(item.Value, item.Options, nil); err != nil {
			return
		}
		if item.Options.Done {
			return
		}
	}
}

// ReplaceWith installs value as a new snapshot. With frameClosure, the
// snapshot's frame stays open until it settles; a *mutation.Object body
// without one stays open until the object emits a done record. Any other
// body is stable at once. Options.Done makes this the final snapshot.
func (r *Response) ReplaceWith(value any, opts Options, frameClosure task.Waiter) error {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return lrerrors.New("L002").WithDetail("replace on closed response").Wrap(ErrClosed)
	}
	if r.generatorDone {
		r.mu.Unlock()
		return lrerrors.New("L002").WithDetail("replace after final snapshot").Wrap(ErrGeneratorDone)
	}

	r.stopFrame()
	r.generation++
	gen := r.generation
	r.body = value
	if opts.Status != 0 {
		r.status = opts.Status
		r.statusText = opts.StatusText
	}
	if opts.Header != nil {
		r.header = opts.Header.Clone()
	}

	frameCtx, cancelFrame := context.WithCancel(r.ctx)
	r.frameCtx = frameCtx
	stops := []func(){cancelFrame}

	obj, isObject := value.(*mutation.Object)
	r.frameDone = frameClosure == nil && !isObject
	if isObject {
		stops = append(stops, obj.Observe(r.objectObserver(gen, frameClosure == nil)))
	}
	if r.frameDone {
		cancelFrame()
	}
	r.stopFrame = func() {
		for _, stop := range stops {
			stop()
		}
	}
	if opts.Done {
		r.generatorDone = true
	}
	snap := r.snapshotLocked()
	replaced := r.listenersLocked(EventReplace)
	var finished []Listener
	if opts.Done {
		finished = r.listenersLocked(EventGeneratorDone)
	}
	r.mu.Unlock()

	if frameClosure != nil {
		go r.watchFrame(gen, frameClosure)
	}

	for _, fn := range replaced {
		fn(snap)
	}
	for _, fn := range finished {
		fn(snap)
	}
	r.checkComplete()
	return nil
}

// objectObserver reports in-place changes of an object body belonging to
// snapshot gen and, when trackDone is set, closes the frame on a done record.
func (r *Response) objectObserver(gen uint64, trackDone bool) mutation.Observer {
	return func(records []mutation.Record) {
		r.mu.Lock()
		if r.generation != gen || r.closed {
			r.mu.Unlock()
			return
		}
		snap := r.snapshotLocked()
		snap.InPlace = true
		fns := r.listenersLocked(EventReplace)
		r.mu.Unlock()

		for _, fn := range fns {
			fn(snap)
		}
		if trackDone && mutation.HasDone(records) {
			r.markFrameDone(gen)
		}
	}
}

func (r *Response) watchFrame(gen uint64, closure task.Waiter) {
	select {
	case <-closure.Done():
		if err := closure.Err(); err != nil {
			r.logger.Warn("frame ended with error", "generation", gen, "error", err)
		}
		r.markFrameDone(gen)
	case <-r.ctx.Done():
	}
}

func (r *Response) markFrameDone(gen uint64) {
	r.mu.Lock()
	if r.generation != gen || r.frameDone || r.closed {
		r.mu.Unlock()
		return
	}
	r.frameDone = true
	r.stopFrame()
	r.stopFrame = func() {}
	snap := r.snapshotLocked()
	fns := r.listenersLocked(EventFrameDone)
	r.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
	r.checkComplete()
}

// Finish declares that no further snapshots will follow.
func (r *Response) Finish() {
	r.mu.Lock()
	if r.generatorDone || r.closed {
		r.mu.Unlock()
		return
	}
	r.generatorDone = true
	snap := r.snapshotLocked()
	fns := r.listenersLocked(EventGeneratorDone)
	r.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
	r.checkComplete()
}

func (r *Response) checkComplete() {
	r.mu.Lock()
	complete := r.frameDone && r.generatorDone && !r.closed
	r.mu.Unlock()
	if complete {
		r.release()
	}
}

// release ends the response's background work and closes Done.
func (r *Response) release() {
	r.doneOnce.Do(func() {
		r.mu.Lock()
		r.released = true
		releases := r.releases
		r.releases = nil
		r.stopFrame()
		r.stopFrame = func() {}
		r.mu.Unlock()

		r.stopAfter()
		r.cancel()
		for _, fn := range releases {
			fn()
		}
		close(r.done)
	})
}

// onRelease runs fn when the response completes or closes.
func (r *Response) onRelease(fn func()) {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		fn()
		return
	}
	r.releases = append(r.releases, fn)
	r.mu.Unlock()
}

func (r *Response) fail(err error) {
	r.logger.Error("sequence failed", "error", err)
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.Close()
}

// Close aborts the response: sequence pulls and frame observation stop and
// close listeners run. Closing a completed response only marks it closed.
func (r *Response) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var fns []Listener
	if !r.released {
		fns = r.listenersLocked(EventClose)
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.release()
	for _, fn := range fns {
		fn(snap)
	}
	return nil
}

// On registers fn for event.
func (r *Response) On(event string, fn Listener) (off func()) {
	id := r.addListener(event, fn)
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.listeners[event]
		for i, l := range list {
			if l.id == id {
				r.listeners[event] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (r *Response) addListener(event string, fn Listener) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.listeners[event] = append(r.listeners[event], &listener{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *Response) listenersLocked(event string) []Listener {
	list := r.listeners[event]
	fns := make([]Listener, len(list))
	for i, l := range list {
		fns[i] = l.fn
	}
	return fns
}

func (r *Response) snapshotLocked() Snapshot {
	return Snapshot{
		Body:          r.body,
		Status:        r.status,
		StatusText:    r.statusText,
		Header:        r.header.Clone(),
		Generation:    r.generation,
		FrameDone:     r.frameDone,
		GeneratorDone: r.generatorDone,
		frame:         r.frameCtx,
	}
}

// Snapshot returns the current state.
func (r *Response) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Body returns the current body. An object body is returned by reference.
func (r *Response) Body() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body
}

// Status returns the current status code.
func (r *Response) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Header returns a copy of the current header.
func (r *Response) Header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.Clone()
}

// FrameDone reports whether the current snapshot has stopped changing.
func (r *Response) FrameDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frameDone
}

// GeneratorDone reports whether the current snapshot is the last one.
func (r *Response) GeneratorDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generatorDone
}

// Closed reports whether Close was called.
func (r *Response) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Err returns the error that closed the response, if any.
func (r *Response) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done is closed once the response is complete or closed.
func (r *Response) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the response is complete or closed.
func (r *Response) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
