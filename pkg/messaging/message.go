package messaging

import (
	"context"
	"errors"

	"github.com/vango-dev/liveroute/pkg/mutation"
	"github.com/vango-dev/liveroute/pkg/task"
)

// Lifecycle events accepted by On.
const (
	EventOpen      = "open"
	EventClose     = "close"
	EventMessaging = "messaging"
)

// Reserved message types.
const (
	// TypeMutations carries a mutation.Batch for the frame named by EventID.
	TypeMutations = "mutations"
	// TypeReply answers a Request with the same EventID.
	TypeReply = "reply"
)

// Messaging errors.
var (
	ErrPortClosed          = errors.New("messaging: port closed")
	ErrTransferUnsupported = errors.New("messaging: transport cannot transfer ports")
	ErrUnknownEvent        = errors.New("messaging: unknown lifecycle event")
)

// Message is the envelope delivered to subscribers.
type Message struct {
	EventID string `json:"eventId,omitempty"`
	Type    string `json:"type,omitempty"`
	Data    any    `json:"data,omitempty"`

	// Live marks a snapshot whose changes follow as TypeMutations batches
	// under Frame.
	Live  bool   `json:"live,omitempty"`
	Frame string `json:"frame,omitempty"`

	// Ports are ports transferred with the message.
	Ports []Port `json:"-"`

	// Origin is the port the message arrived on. For a Multiport it is the
	// member, so handlers can rebroadcast with Except(msg.Origin).
	Origin Port `json:"-"`

	// Except names a member a Multiport must skip. It is never transmitted.
	Except Port `json:"-"`
}

// Handler receives messages.
type Handler func(Message)

// Port is a bidirectional messaging endpoint.
type Port interface {
	// PostMessage wraps data in an envelope and sends it.
	PostMessage(data any, opts ...PostOption) error

	// Send transmits a prepared envelope.
	Send(msg Message) error

	// Subscribe registers fn for incoming messages.
	Subscribe(fn Handler, opts ...ListenOption) (off func())

	// On registers fn for a lifecycle event.
	On(event string, fn func(), opts ...ListenOption) (off func())

	// IsOpen reports whether the port is open. Undecided ports are not open.
	IsOpen() bool

	// IsMessaging reports whether anything was ever sent on the port.
	IsMessaging() bool

	// Done is closed once the port is closed for good.
	Done() <-chan struct{}

	// Close tears the port down.
	Close() error

	// PublishMutations ships obj's batches under frameID.
	PublishMutations(ctx context.Context, obj *mutation.Object, frameID string, opts ...SyncOption) *task.Task

	// PublishLive is PublishMutations preceded by announce, which receives
	// the snapshot the published batches apply to.
	PublishLive(ctx context.Context, obj *mutation.Object, frameID string, announce func(snapshot any) error, opts ...SyncOption) (*task.Task, error)

	// ApplyMutations replays batches for frameID onto obj.
	ApplyMutations(ctx context.Context, obj *mutation.Object, frameID string) *task.Task
}

// PostOptions configure one PostMessage call.
type PostOptions struct {
	EventID  string
	Type     string
	Live     bool
	Frame    string
	Transfer []Port
	Except   Port
	Signal   context.Context
	Sync     []SyncOption
}

// PostOption configures PostMessage.
type PostOption func(*PostOptions)

// WithEventID tags the message with an event id.
func WithEventID(id string) PostOption {
	return func(o *PostOptions) { o.EventID = id }
}

// WithType sets the message type.
func WithType(t string) PostOption {
	return func(o *PostOptions) { o.Type = t }
}

// Live requests live publishing for *mutation.Object payloads.
func Live() PostOption {
	return func(o *PostOptions) { o.Live = true }
}

// WithFrame sets the frame id used for a live payload.
func WithFrame(frame string) PostOption {
	return func(o *PostOptions) { o.Frame = frame }
}

// Transfer attaches ports to the message.
func Transfer(ports ...Port) PostOption {
	return func(o *PostOptions) { o.Transfer = append(o.Transfer, ports...) }
}

// Except skips one Multiport member for this broadcast.
func Except(p Port) PostOption {
	return func(o *PostOptions) { o.Except = p }
}

// WithSignal bounds live publishing started by this post.
func WithSignal(ctx context.Context) PostOption {
	return func(o *PostOptions) { o.Signal = ctx }
}

// WithSync passes options to live publishing started by this post.
func WithSync(opts ...SyncOption) PostOption {
	return func(o *PostOptions) { o.Sync = append(o.Sync, opts...) }
}

type listenOptions struct {
	typ     string
	eventID string
	once    bool
}

// ListenOption filters or limits a subscription.
type ListenOption func(*listenOptions)

// Once removes the listener after its first call.
func Once() ListenOption {
	return func(o *listenOptions) { o.once = true }
}

// ForType only delivers messages of type t.
func ForType(t string) ListenOption {
	return func(o *listenOptions) { o.typ = t }
}

// ForEvent only delivers messages tagged with event id.
func ForEvent(id string) ListenOption {
	return func(o *listenOptions) { o.eventID = id }
}

func (o listenOptions) matches(msg Message) bool {
	if o.typ != "" && msg.Type != o.typ {
		return false
	}
	if o.eventID != "" && msg.EventID != o.eventID {
		return false
	}
	return true
}
