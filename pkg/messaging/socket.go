package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	lrerrors "github.com/vango-dev/liveroute/internal/errors"
)

// ProtocolVersion is the socket envelope version announced in the handshake.
const ProtocolVersion = "1.0.0"

// SocketConfig holds configuration for socket ports.
type SocketConfig struct {
	// WriteTimeout bounds each websocket write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ReadLimit is the maximum size of an incoming message.
	// Default: 1MB.
	ReadLimit int64

	// Version is announced to the peer.
	// Default: ProtocolVersion.
	Version string

	// Accept is the semver constraint a peer's version must satisfy.
	// Default: "^1".
	Accept string

	// Logger is used for transport diagnostics.
	// Default: slog.Default().
	Logger *slog.Logger

	// Paused holds incoming messages until Resume is called, so handlers
	// subscribed right after Dial see everything the peer sent.
	Paused bool
}

// DefaultSocketConfig returns a SocketConfig with sensible defaults.
func DefaultSocketConfig() *SocketConfig {
	return &SocketConfig{
		WriteTimeout: 10 * time.Second,
		ReadLimit:    1 << 20,
		Version:      ProtocolVersion,
		Accept:       "^1",
	}
}

// Clone returns a copy of the SocketConfig.
func (c *SocketConfig) Clone() *SocketConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

func (c *SocketConfig) withDefaults() *SocketConfig {
	defaults := DefaultSocketConfig()
	if c == nil {
		return defaults
	}
	out := c.Clone()
	if out.WriteTimeout == 0 {
		out.WriteTimeout = defaults.WriteTimeout
	}
	if out.ReadLimit == 0 {
		out.ReadLimit = defaults.ReadLimit
	}
	if out.Version == "" {
		out.Version = defaults.Version
	}
	if out.Accept == "" {
		out.Accept = defaults.Accept
	}
	return out
}

// relay binds a socket sub-topic to a local port. Messages arriving on the
// local end go out on the topic; messages on the topic are sent into it.
type relay struct {
	end Port
	off func()
}

// SocketPort is a port over a websocket connection. It becomes open once the
// peer's handshake is accepted.
type SocketPort struct {
	*API
	conn   *websocket.Conn
	config *SocketConfig
	accept *semver.Constraints

	writeMu sync.Mutex

	relayMu sync.Mutex
	relays  map[string]*relay

	resume     chan struct{}
	resumeOnce sync.Once
}

// Dial connects to a socket port endpoint.
func Dial(ctx context.Context, url string, header http.Header, config *SocketConfig) (*SocketPort, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("messaging: dial %s: %w", url, err)
	}
	return NewSocketPort(conn, config)
}

// NewSocketPort wraps an established websocket connection, announces the
// protocol version and starts reading.
func NewSocketPort(conn *websocket.Conn, config *SocketConfig) (*SocketPort, error) {
	config = config.withDefaults()
	accept, err := semver.NewConstraint(config.Accept)
	if err != nil {
		conn.Close()
		return nil, lrerrors.New("C001").WithDetailf("socket accept constraint %q", config.Accept).Wrap(err)
	}

	p := &SocketPort{
		API:    newAPI("socket", config.Logger),
		conn:   conn,
		config: config,
		accept: accept,
		relays: make(map[string]*relay),
		resume: make(chan struct{}),
	}
	p.self = p
	if !config.Paused {
		p.Resume()
	}
	p.send = func(msg Message) error { return p.write("", msg) }
	p.teardown = p.shutdown

	conn.SetReadLimit(config.ReadLimit)
	if err := p.writeWire(wireMessage{Kind: wireHello, Version: config.Version}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("messaging: handshake: %w", err)
	}
	go p.readLoop()
	return p, nil
}

// write sends msg on topic, registering relays for transferred ports.
func (p *SocketPort) write(topic string, msg Message) error {
	var ids []string
	for _, port := range msg.Ports {
		ids = append(ids, p.exportPort(port))
	}
	data, err := encodeEnvelope(topic, msg, ids)
	if err != nil {
		return fmt.Errorf("messaging: encode: %w", err)
	}
	return p.writeRaw(data)
}

func (p *SocketPort) writeWire(w wireMessage) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return p.writeRaw(data)
}

func (p *SocketPort) writeRaw(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// exportPort relays a local port over a fresh sub-topic.
func (p *SocketPort) exportPort(port Port) string {
	id := uuid.NewString()
	p.bindRelay(id, port)
	return id
}

// importPort creates the local pair for a sub-topic announced by the peer
// and returns the end handed to the application.
func (p *SocketPort) importPort(id string) Port {
	app, inner := NewChannel(p.config.Logger)
	p.bindRelay(id, inner)
	return app
}

func (p *SocketPort) bindRelay(id string, end Port) {
	r := &relay{end: end, off: func() {}}
	p.relayMu.Lock()
	p.relays[id] = r
	p.relayMu.Unlock()

	off := end.Subscribe(func(m Message) {
		m.Origin = nil
		if err := p.write(id, m); err != nil {
			p.logger.Debug("relay write failed", "topic", id, "error", err)
		}
	})
	p.relayMu.Lock()
	r.off = off
	p.relayMu.Unlock()

	end.On(EventClose, func() {
		if p.dropRelay(id) != nil && !p.closing() {
			p.writeWire(wireMessage{Kind: wireClose, Topic: id})
		}
	}, Once())
}

func (p *SocketPort) dropRelay(id string) *relay {
	p.relayMu.Lock()
	defer p.relayMu.Unlock()
	r, ok := p.relays[id]
	if !ok {
		return nil
	}
	delete(p.relays, id)
	r.off()
	return r
}

// Resume starts delivering incoming messages on a paused port.
func (p *SocketPort) Resume() {
	p.resumeOnce.Do(func() { close(p.resume) })
}

func (p *SocketPort) readLoop() {
	defer p.teardownRelays()
	defer p.finish()

	<-p.resume

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				p.logger.Error("read error", "error", err)
			}
			return
		}

		var w wireMessage
		if err := json.Unmarshal(data, &w); err != nil {
			p.logger.Warn("envelope decode error", "error", err)
			continue
		}
		if !p.handleWire(w) {
			return
		}
	}
}

// handleWire processes one envelope. It returns false when the socket must
// stop reading.
func (p *SocketPort) handleWire(w wireMessage) bool {
	switch w.Kind {
	case wireHello:
		v, err := semver.NewVersion(w.Version)
		if err != nil || !p.accept.Check(v) {
			p.logger.Error("incompatible peer", "version", w.Version, "accept", p.config.Accept)
			p.writeWire(wireMessage{Kind: wireClose, Reason: "T002"})
			p.conn.Close()
			return false
		}
		p.setOpen(true)

	case wireClose:
		if w.Topic == "" {
			if w.Reason != "" {
				p.logger.Warn("peer closed socket", "reason", w.Reason)
			}
			p.conn.Close()
			return false
		}
		if r := p.dropRelay(w.Topic); r != nil {
			r.end.Close()
		}

	case wireMsg:
		msg, err := decodeEnvelope(w)
		if err != nil {
			p.logger.Warn("message data decode error", "error", err)
			return true
		}
		for _, id := range w.Ports {
			msg.Ports = append(msg.Ports, p.importPort(id))
		}
		if w.Topic == "" {
			p.deliver(msg)
			return true
		}
		p.relayMu.Lock()
		r, ok := p.relays[w.Topic]
		p.relayMu.Unlock()
		if !ok {
			p.logger.Warn("message for unknown sub-port", "topic", w.Topic)
			return true
		}
		if err := r.end.Send(msg); err != nil {
			p.logger.Debug("relay delivery failed", "topic", w.Topic, "error", err)
		}

	default:
		p.logger.Warn("unknown envelope kind", "kind", w.Kind)
	}
	return true
}

func (p *SocketPort) teardownRelays() {
	p.relayMu.Lock()
	relays := p.relays
	p.relays = make(map[string]*relay)
	p.relayMu.Unlock()
	for _, r := range relays {
		p.relayMu.Lock()
		off := r.off
		p.relayMu.Unlock()
		off()
		r.end.Close()
	}
}

// shutdown announces the close and drops the connection; the read loop
// finishes the port.
func (p *SocketPort) shutdown() error {
	p.Resume()
	p.writeWire(wireMessage{Kind: wireClose})
	p.writeMu.Lock()
	p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	p.writeMu.Unlock()
	return p.conn.Close()
}
