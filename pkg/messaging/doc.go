// Package messaging implements transport-agnostic ports for shipping live
// response updates to remote peers.
//
// Every transport embeds *API, which owns the port lifecycle (open state,
// messaging flag, listeners) and the mutation-sync protocol. Transports only
// provide a send hook and teardown:
//
//   - NewChannel: an in-process pair; closing either end closes both.
//   - NewSocketPort / Dial: a gorilla/websocket connection carrying JSON
//     envelopes; transferred ports are relayed over per-port sub-topics so
//     port graphs of any depth can cross one socket.
//   - NewMultiport: a fan-out registry over a dynamic set of member ports.
//   - NewNATSPort: a pair of NATS subjects.
//
// # Lifecycle
//
// A port's open state is undecided until the transport decides it, then
// open or closed. On(EventOpen|EventClose|EventMessaging, fn) calls fn
// immediately when the state already holds, otherwise when it is reached.
//
// # Live values
//
// PostMessage(obj, Live()) with a *mutation.Object sends the current snapshot
// tagged with a frame id and then publishes every batch of changes under
// that frame until a record flags done:
//
//	frame := uuid.NewString()
//	port.PostMessage(obj, messaging.Live(), messaging.WithFrame(frame))
//
//	// remote side
//	port.Subscribe(func(m messaging.Message) {
//	    replica := mutation.MustObject(m.Data)
//	    port.ApplyMutations(ctx, replica, m.Frame)
//	})
package messaging
