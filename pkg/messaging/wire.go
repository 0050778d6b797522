package messaging

import "encoding/json"

// Wire kinds.
const (
	wireHello = "hello"
	wireMsg   = "msg"
	wireClose = "close"
)

// wireMessage is the JSON text envelope used by socket and NATS transports.
// Field names are kept short since every live batch pays for them.
type wireMessage struct {
	Kind    string          `json:"k"`
	Topic   string          `json:"t,omitempty"`
	EventID string          `json:"i,omitempty"`
	Type    string          `json:"y,omitempty"`
	Data    json.RawMessage `json:"d,omitempty"`
	Live    bool            `json:"l,omitempty"`
	Frame   string          `json:"f,omitempty"`
	Ports   []string        `json:"p,omitempty"`
	Version string          `json:"v,omitempty"`
	Reason  string          `json:"r,omitempty"`
}

func encodeEnvelope(topic string, msg Message, ports []string) ([]byte, error) {
	w := wireMessage{
		Kind:    wireMsg,
		Topic:   topic,
		EventID: msg.EventID,
		Type:    msg.Type,
		Live:    msg.Live,
		Frame:   msg.Frame,
		Ports:   ports,
	}
	if msg.Data != nil {
		data, err := json.Marshal(msg.Data)
		if err != nil {
			return nil, err
		}
		w.Data = data
	}
	return json.Marshal(w)
}

// decodeEnvelope turns a wire message back into a Message without ports.
func decodeEnvelope(w wireMessage) (Message, error) {
	msg := Message{
		EventID: w.EventID,
		Type:    w.Type,
		Live:    w.Live,
		Frame:   w.Frame,
	}
	if len(w.Data) > 0 {
		if err := json.Unmarshal(w.Data, &msg.Data); err != nil {
			return Message{}, err
		}
	}
	return msg, nil
}
