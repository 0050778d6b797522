package server

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vango-dev/liveroute/pkg/live"
	"github.com/vango-dev/liveroute/pkg/messaging"
	"github.com/vango-dev/liveroute/pkg/middleware"
)

// HeaderPort carries the id of the live port a response streams over.
const HeaderPort = "X-Live-Port"

// ErrUnknownPort is returned when attaching to a port that does not exist
// or was already released.
var ErrUnknownPort = errors.New("server: unknown live port")

type portEntry struct {
	id    string
	mp    *messaging.Multiport
	resp  *live.Response
	timer *time.Timer
	off   func()
}

// Ports is the registry of live ports. Each live response that outlives its
// HTTP answer gets a Multiport that subscribers join by id.
type Ports struct {
	ttl     time.Duration
	backlog int
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*portEntry
}

// NewPorts returns an empty registry. Ports without subscribers are released
// after ttl.
func NewPorts(ttl time.Duration, backlog int, logger *slog.Logger) *Ports {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ports{
		ttl:     ttl,
		backlog: backlog,
		logger:  logger.With("component", "ports"),
		entries: make(map[string]*portEntry),
	}
}

// Register creates a port for resp. The port is released when resp
// completes or closes.
func (p *Ports) Register(resp *live.Response) (string, *messaging.Multiport) {
	id := uuid.NewString()
	mp := messaging.NewMultiport(p.logger)
	mp.SetBacklog(p.backlog)

	e := &portEntry{id: id, mp: mp, resp: resp}
	e.timer = time.AfterFunc(p.ttl, func() { p.expire(id) })
	e.off = mp.On(messaging.EventClose, func() {
		if mp.Len() == 0 {
			p.arm(id)
		}
	})

	p.mu.Lock()
	p.entries[id] = e
	p.mu.Unlock()
	middleware.RecordPortOpen()
	p.logger.Debug("port registered", "port", id)

	go func() {
		<-resp.Done()
		p.Release(id)
	}()
	return id, mp
}

// Attach joins port to the live port id.
func (p *Ports) Attach(id string, port messaging.Port) error {
	p.mu.Lock()
	e, ok := p.entries[id]
	if ok {
		e.timer.Stop()
	}
	p.mu.Unlock()
	if !ok {
		return ErrUnknownPort
	}
	e.mp.Add(port)
	p.logger.Debug("subscriber attached", "port", id, "members", e.mp.Len())
	return nil
}

// Has reports whether id is registered.
func (p *Ports) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

// Len returns the number of registered ports.
func (p *Ports) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Release drops id, closing its subscribers.
func (p *Ports) Release(id string) {
	p.mu.Lock()
	e, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
		e.timer.Stop()
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	e.off()
	members := e.mp.Members()
	e.mp.Close()
	for _, m := range members {
		m.Close()
	}
	middleware.RecordPortClose()
	p.logger.Debug("port released", "port", id)
}

// Close releases every port and closes their responses.
func (p *Ports) Close() {
	p.mu.Lock()
	entries := make([]*portEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, e := range entries {
		p.Release(e.id)
		e.resp.Close()
	}
}

// arm restarts the expiry timer of a port that lost its last subscriber.
func (p *Ports) arm(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[id]; ok {
		e.timer.Reset(p.ttl)
	}
}

// expire releases a port that still has no subscribers and closes its
// response.
func (p *Ports) expire(id string) {
	p.mu.Lock()
	e, ok := p.entries[id]
	p.mu.Unlock()
	if !ok || e.mp.Len() > 0 {
		return
	}
	p.logger.Info("live port expired", "port", id)
	p.Release(id)
	e.resp.Close()
}
