package messaging

import (
	"context"

	"github.com/google/uuid"
)

// Request posts data with a fresh event id and waits for the matching
// TypeReply message.
func Request(ctx context.Context, p Port, data any, opts ...PostOption) (Message, error) {
	id := uuid.NewString()
	replies := make(chan Message, 1)
	off := p.Subscribe(func(m Message) {
		replies <- m
	}, ForType(TypeReply), ForEvent(id), Once())
	defer off()

	if err := p.PostMessage(data, append(opts, WithEventID(id))...); err != nil {
		return Message{}, err
	}

	select {
	case m := <-replies:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-p.Done():
		return Message{}, ErrPortClosed
	}
}

// Reply answers req on the port it arrived on.
func Reply(req Message, data any) error {
	if req.Origin == nil {
		return ErrPortClosed
	}
	return req.Origin.PostMessage(data, WithEventID(req.EventID), WithType(TypeReply))
}
