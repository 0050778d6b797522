package messaging

import "sync"

// mailbox is an unbounded FIFO drained by a single goroutine. Senders never
// block, so handlers may post back on the same channel pair.
type mailbox struct {
	mu     sync.Mutex
	items  []Message
	signal chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(msg Message) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, msg)
	m.mu.Unlock()
	m.wake()
	return true
}

// close stops accepting messages. Queued messages are still drained.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
}

func (m *mailbox) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// drain calls fn for every message in order until the mailbox is closed and
// empty.
func (m *mailbox) drain(fn func(Message)) {
	for {
		m.mu.Lock()
		if len(m.items) == 0 {
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			<-m.signal
			continue
		}
		msg := m.items[0]
		m.items[0] = Message{}
		m.items = m.items[1:]
		m.mu.Unlock()
		fn(msg)
	}
}
