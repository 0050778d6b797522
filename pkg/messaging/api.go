package messaging

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	lrerrors "github.com/vango-dev/liveroute/internal/errors"
	"github.com/vango-dev/liveroute/pkg/mutation"
)

type openState uint8

const (
	stateUndecided openState = iota
	stateOpen
	stateClosed
)

type stateListener struct {
	id   uint64
	fn   func()
	once bool
}

type subscription struct {
	id   uint64
	fn   Handler
	opts listenOptions
}

// API is the transport-independent half of a port. Transports embed it and
// install a send hook and an optional teardown hook.
type API struct {
	transport string
	logger    *slog.Logger
	self      Port

	mu        sync.Mutex
	state     openState
	messaging bool
	final     bool
	states    map[string][]*stateListener
	subs      []*subscription
	nextID    uint64

	done     chan struct{}
	doneOnce sync.Once

	// send transmits an envelope. Called without mu held.
	send func(Message) error

	// teardown releases transport resources. It must eventually call
	// finish. When nil, Close calls finish directly.
	teardown func() error
}

func newAPI(transport string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		transport: transport,
		logger:    logger.With("component", "messaging", "transport", transport),
		states:    make(map[string][]*stateListener),
		done:      make(chan struct{}),
	}
}

// Logger returns the port's logger.
func (a *API) Logger() *slog.Logger {
	return a.logger
}

// IsOpen reports whether the port is open.
func (a *API) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == stateOpen
}

// OpenState reports the open flag and whether it has been decided yet.
func (a *API) OpenState() (open, decided bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == stateOpen, a.state != stateUndecided
}

// IsMessaging reports whether anything was ever sent on the port.
func (a *API) IsMessaging() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.messaging
}

// Done is closed once the port is closed for good.
func (a *API) Done() <-chan struct{} {
	return a.done
}

// On registers fn for a lifecycle event. If the state already holds, fn is
// called before On returns and, with Once, is not registered at all.
func (a *API) On(event string, fn func(), opts ...ListenOption) (off func()) {
	var o listenOptions
	for _, opt := range opts {
		opt(&o)
	}

	a.mu.Lock()
	var satisfied bool
	switch event {
	case EventOpen:
		satisfied = a.state == stateOpen
	case EventClose:
		satisfied = a.state == stateClosed
	case EventMessaging:
		satisfied = a.messaging
	default:
		a.mu.Unlock()
		a.logger.Warn("unknown lifecycle event", "event", event)
		return func() {}
	}
	if satisfied && o.once {
		a.mu.Unlock()
		fn()
		return func() {}
	}
	a.nextID++
	l := &stateListener{id: a.nextID, fn: fn, once: o.once}
	a.states[event] = append(a.states[event], l)
	a.mu.Unlock()

	if satisfied {
		fn()
	}
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		list := a.states[event]
		for i, e := range list {
			if e.id == l.id {
				a.states[event] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Subscribe registers fn for incoming messages matching opts.
func (a *API) Subscribe(fn Handler, opts ...ListenOption) (off func()) {
	var o listenOptions
	for _, opt := range opts {
		opt(&o)
	}

	a.mu.Lock()
	a.nextID++
	s := &subscription{id: a.nextID, fn: fn, opts: o}
	a.subs = append(a.subs, s)
	a.mu.Unlock()

	return func() { a.unsubscribe(s.id) }
}

func (a *API) unsubscribe(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, s := range a.subs {
		if s.id == id {
			a.subs = append(a.subs[:i:i], a.subs[i+1:]...)
			return
		}
	}
}

// PostMessage wraps data in an envelope and sends it. With Live and a
// *mutation.Object payload, the snapshot is sent tagged with a frame id and
// the object's subsequent batches are published under that frame.
func (a *API) PostMessage(data any, opts ...PostOption) error {
	var o PostOptions
	for _, opt := range opts {
		opt(&o)
	}

	msg := Message{
		EventID: o.EventID,
		Type:    o.Type,
		Data:    data,
		Ports:   o.Transfer,
		Except:  o.Except,
	}

	obj, observable := data.(*mutation.Object)
	if !o.Live || !observable {
		if observable {
			msg.Data = obj.Snapshot()
		}
		return a.Send(msg)
	}

	frame := o.Frame
	if frame == "" {
		frame = uuid.NewString()
	}
	msg.Live = true
	msg.Frame = frame

	ctx := o.Signal
	if ctx == nil {
		ctx = detachedContext(a.done)
	}
	_, err := a.PublishLive(ctx, obj, frame, func(snapshot any) error {
		msg.Data = snapshot
		return a.Send(msg)
	}, o.Sync...)
	return err
}

// Send transmits a prepared envelope.
func (a *API) Send(msg Message) error {
	a.mu.Lock()
	if a.final {
		a.mu.Unlock()
		return lrerrors.New("T001").WithDetailf("%s port", a.transport).Wrap(ErrPortClosed)
	}
	send := a.send
	a.mu.Unlock()

	if send == nil {
		return fmt.Errorf("messaging: %s port has no transport", a.transport)
	}
	if err := send(msg); err != nil {
		return err
	}
	recordMessage(a.transport, "out")

	a.mu.Lock()
	first := !a.messaging
	a.messaging = true
	var fns []func()
	if first {
		fns = a.takeStateListeners(EventMessaging)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return nil
}

// Close tears the port down. Closing twice is a no-op.
func (a *API) Close() error {
	a.mu.Lock()
	if a.final {
		a.mu.Unlock()
		return nil
	}
	a.final = true
	teardown := a.teardown
	a.mu.Unlock()

	if teardown == nil {
		a.finish()
		return nil
	}
	return teardown()
}

// closing reports whether Close has been called.
func (a *API) closing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.final
}

// finish marks the port closed for good and fires close listeners. Done is
// already closed when they run.
func (a *API) finish() {
	a.mu.Lock()
	a.final = true
	var fns []func()
	if a.state != stateClosed {
		a.state = stateClosed
		fns = a.takeStateListeners(EventClose)
	}
	a.mu.Unlock()

	a.doneOnce.Do(func() {
		close(a.done)
		a.logger.Debug("port closed")
	})
	for _, fn := range fns {
		fn()
	}
}

// setOpen moves the port to open or closed and fires matching listeners.
// A port that is closed for good cannot reopen.
func (a *API) setOpen(open bool) {
	a.mu.Lock()
	want := stateClosed
	if open {
		want = stateOpen
	}
	if a.state == want || (open && a.final) {
		a.mu.Unlock()
		return
	}
	a.state = want
	event := EventClose
	if open {
		event = EventOpen
	}
	fns := a.takeStateListeners(event)
	a.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// takeStateListeners returns the callbacks for event and drops once
// listeners. mu must be held.
func (a *API) takeStateListeners(event string) []func() {
	list := a.states[event]
	fns := make([]func(), 0, len(list))
	kept := list[:0:0]
	for _, l := range list {
		fns = append(fns, l.fn)
		if !l.once {
			kept = append(kept, l)
		}
	}
	a.states[event] = kept
	return fns
}

// deliver hands an incoming message to matching subscribers in order.
func (a *API) deliver(msg Message) {
	if msg.Origin == nil {
		msg.Origin = a.self
	}
	recordMessage(a.transport, "in")

	a.mu.Lock()
	var fns []Handler
	kept := a.subs[:0:0]
	for _, s := range a.subs {
		if !s.opts.matches(msg) {
			kept = append(kept, s)
			continue
		}
		fns = append(fns, s.fn)
		if !s.opts.once {
			kept = append(kept, s)
		}
	}
	a.subs = kept
	a.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}
