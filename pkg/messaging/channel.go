package messaging

import (
	"log/slog"

	"github.com/vango-dev/liveroute/pkg/mutation"
)

// LocalPort is one end of an in-process channel pair.
type LocalPort struct {
	*API
	peer  *LocalPort
	inbox *mailbox
}

// NewChannel returns two connected ports. Both are open immediately.
// Closing either end closes both; messages already queued are delivered
// before the close listeners run.
func NewChannel(logger *slog.Logger) (*LocalPort, *LocalPort) {
	a := newLocalPort(logger)
	b := newLocalPort(logger)
	a.peer, b.peer = b, a

	for _, p := range []*LocalPort{a, b} {
		go func(p *LocalPort) {
			p.inbox.drain(p.deliver)
			p.finish()
		}(p)
		p.setOpen(true)
	}
	return a, b
}

func newLocalPort(logger *slog.Logger) *LocalPort {
	p := &LocalPort{API: newAPI("channel", logger), inbox: newMailbox()}
	p.self = p
	p.send = p.sendToPeer
	p.teardown = p.shutdown
	return p
}

func (p *LocalPort) sendToPeer(msg Message) error {
	msg.Data = cloneData(msg.Data)
	msg.Origin = nil
	msg.Except = nil
	if !p.peer.inbox.push(msg) {
		return ErrPortClosed
	}
	return nil
}

// shutdown closes both inboxes. Each drain loop finishes its port.
func (p *LocalPort) shutdown() error {
	p.inbox.close()
	p.peer.inbox.close()
	p.peer.API.Close()
	return nil
}

// Peer returns the other end of the channel.
func (p *LocalPort) Peer() *LocalPort {
	return p.peer
}

// cloneData gives the receiver its own copy of plain trees.
func cloneData(v any) any {
	if mutation.IsPlain(v) {
		return mutation.Clone(v)
	}
	return v
}
