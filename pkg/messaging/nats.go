package messaging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	lrerrors "github.com/vango-dev/liveroute/internal/errors"
)

// ConnectNATS opens a NATS connection with reconnect handling logged on
// logger.
func ConnectNATS(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("connection closed")
		}),
	)
	if err != nil {
		return nil, lrerrors.New("T001").WithDetailf("connect %s", url).Wrap(err)
	}
	logger.Info("connected", "url", nc.ConnectedUrl())
	return nc, nil
}

// NATSPort is a port over a pair of NATS subjects: it publishes on one and
// listens on the other. Two NATSPorts with swapped subjects form a channel.
// Ports cannot be transferred over NATS.
type NATSPort struct {
	*API
	nc      *nats.Conn
	publish string
	sub     *nats.Subscription
}

// NewNATSPort subscribes to listen and returns a port publishing to publish.
// The port is open once the subscription is active.
func NewNATSPort(nc *nats.Conn, publish, listen string, logger *slog.Logger) (*NATSPort, error) {
	p := &NATSPort{
		API:     newAPI("nats", logger),
		nc:      nc,
		publish: publish,
	}
	p.self = p
	p.send = p.publishMessage
	p.teardown = p.shutdown

	sub, err := nc.Subscribe(listen, p.handle)
	if err != nil {
		return nil, fmt.Errorf("messaging: subscribe %s: %w", listen, err)
	}
	if err := nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("messaging: flush %s: %w", listen, err)
	}
	p.sub = sub
	p.setOpen(true)
	return p, nil
}

func (p *NATSPort) publishMessage(msg Message) error {
	if len(msg.Ports) > 0 {
		return ErrTransferUnsupported
	}
	if p.nc.IsClosed() {
		return lrerrors.New("T001").WithDetail("nats connection closed").Wrap(ErrPortClosed)
	}
	data, err := encodeEnvelope("", msg, nil)
	if err != nil {
		return fmt.Errorf("messaging: encode: %w", err)
	}
	return p.nc.Publish(p.publish, data)
}

func (p *NATSPort) handle(m *nats.Msg) {
	var w wireMessage
	if err := json.Unmarshal(m.Data, &w); err != nil {
		p.logger.Warn("envelope decode error", "subject", m.Subject, "error", err)
		return
	}
	switch w.Kind {
	case wireClose:
		p.logger.Debug("peer closed", "subject", m.Subject)
		p.Close()
	case wireMsg:
		msg, err := decodeEnvelope(w)
		if err != nil {
			p.logger.Warn("message data decode error", "error", err)
			return
		}
		p.deliver(msg)
	}
}

// shutdown tells the peer, drops the subscription and leaves the shared
// connection open.
func (p *NATSPort) shutdown() error {
	if !p.nc.IsClosed() {
		if data, err := json.Marshal(wireMessage{Kind: wireClose}); err == nil {
			p.nc.Publish(p.publish, data)
		}
	}
	err := p.sub.Unsubscribe()
	p.finish()
	if err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
		return err
	}
	return nil
}
