package messaging

import (
	"errors"
	"log/slog"
	"sync"
)

type member struct {
	port Port
	offs []func()
}

// ErrBacklogFull is returned when a memberless Multiport's backlog is full.
var ErrBacklogFull = errors.New("messaging: multiport backlog full")

// Multiport fans messages out to a dynamic set of member ports and merges
// what they receive. It is open while any member is open. Removing the last
// member closes it until a member joins again; Close is final and detaches
// every member without closing them.
type Multiport struct {
	*API

	// sendMu orders broadcasts against backlog flushes.
	sendMu sync.Mutex

	membersMu sync.Mutex
	members   []*member

	backlog      []Message
	backlogLimit int
}

// NewMultiport returns a Multiport over the given members.
func NewMultiport(logger *slog.Logger, members ...Port) *Multiport {
	m := &Multiport{API: newAPI("multiport", logger)}
	m.self = m
	m.send = m.broadcast
	m.teardown = m.shutdown
	for _, p := range members {
		m.Add(p)
	}
	return m
}

// SetBacklog makes a memberless Multiport queue up to limit messages and
// hand them to the next member that joins. Zero disables the backlog and
// drops anything queued.
func (m *Multiport) SetBacklog(limit int) {
	m.membersMu.Lock()
	defer m.membersMu.Unlock()
	m.backlogLimit = limit
	if limit <= 0 {
		m.backlog = nil
	}
}

// Add joins p. Adding a member twice or adding a closed port is a no-op.
func (m *Multiport) Add(p Port) {
	if p == nil || m.closing() {
		return
	}
	select {
	case <-p.Done():
		return
	default:
	}

	m.sendMu.Lock()
	m.membersMu.Lock()
	for _, e := range m.members {
		if e.port == p {
			m.membersMu.Unlock()
			m.sendMu.Unlock()
			return
		}
	}
	e := &member{port: p}
	m.members = append(m.members, e)
	backlog := m.backlog
	m.backlog = nil
	m.membersMu.Unlock()

	for _, msg := range backlog {
		if err := p.Send(msg); err != nil {
			m.logger.Debug("backlog flush failed", "error", err)
			break
		}
	}
	m.sendMu.Unlock()

	offMsg := p.Subscribe(func(msg Message) {
		if msg.Origin == nil {
			msg.Origin = p
		}
		m.deliver(msg)
	})
	offOpen := p.On(EventOpen, m.refresh)
	offClose := p.On(EventClose, func() {
		select {
		case <-p.Done():
			m.Remove(p)
		default:
			m.refresh()
		}
	})

	m.membersMu.Lock()
	e.offs = []func(){offMsg, offOpen, offClose}
	m.membersMu.Unlock()

	m.logger.Debug("member added", "members", m.Len())
	m.refresh()
}

// Remove detaches p without closing it.
func (m *Multiport) Remove(p Port) {
	m.membersMu.Lock()
	var removed *member
	for i, e := range m.members {
		if e.port == p {
			removed = e
			m.members = append(m.members[:i:i], m.members[i+1:]...)
			break
		}
	}
	m.membersMu.Unlock()
	if removed == nil {
		return
	}
	for _, off := range removed.offs {
		off()
	}
	m.logger.Debug("member removed", "members", m.Len())
	m.refresh()
}

// Members returns the current members in join order.
func (m *Multiport) Members() []Port {
	m.membersMu.Lock()
	defer m.membersMu.Unlock()
	out := make([]Port, len(m.members))
	for i, e := range m.members {
		out[i] = e.port
	}
	return out
}

// Len returns the number of members.
func (m *Multiport) Len() int {
	m.membersMu.Lock()
	defer m.membersMu.Unlock()
	return len(m.members)
}

// refresh derives the aggregate open state from the members.
func (m *Multiport) refresh() {
	members := m.Members()
	decided := len(members) == 0
	for _, p := range members {
		if p.IsOpen() {
			m.setOpen(true)
			return
		}
		if !decided {
			select {
			case <-p.Done():
				decided = true
			default:
			}
		}
	}
	if m.wasDecided() || decided {
		m.setOpen(false)
	}
}

func (m *Multiport) wasDecided() bool {
	_, decided := m.OpenState()
	return decided
}

// broadcast sends msg to every member except msg.Except, or queues it
// when there are no members and a backlog is set.
func (m *Multiport) broadcast(msg Message) error {
	skip := msg.Except
	msg.Except = nil
	msg.Origin = nil

	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.membersMu.Lock()
	if len(m.members) == 0 && m.backlogLimit > 0 {
		defer m.membersMu.Unlock()
		if len(m.backlog) >= m.backlogLimit {
			return ErrBacklogFull
		}
		m.backlog = append(m.backlog, msg)
		return nil
	}
	m.membersMu.Unlock()
	targets := m.Members()

	if len(msg.Ports) > 0 {
		n := 0
		for _, p := range targets {
			if p != skip {
				n++
			}
		}
		if n > 1 {
			return ErrTransferUnsupported
		}
	}

	var errs []error
	for _, p := range targets {
		if p == skip {
			continue
		}
		if err := p.Send(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multiport) shutdown() error {
	for _, p := range m.Members() {
		m.Remove(p)
	}
	m.finish()
	return nil
}
