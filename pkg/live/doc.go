// Package live implements live responses: response values whose body can
// keep changing after the response has been handed to the caller.
//
// A Response is built from one of four shapes:
//
//   - a constant value, which is final immediately;
//   - an *http.Response, parsed by FromResponse;
//   - a Sequence, whose first item is pulled before New returns and whose
//     remaining items replace the body in the background;
//   - a *mutation.Object, whose in-place changes are reported as they happen.
//
// Every ReplaceWith is a snapshot boundary. Two flags track completion:
// FrameDone (the current snapshot has stopped changing) and GeneratorDone
// (no further snapshots will follow). The response is complete once both
// hold, or once it is closed.
//
// ToResponse flattens a Response into an *http.Response and, given a
// messaging port, keeps the peer up to date: the open frame is published as
// mutation batches and later snapshots are pushed as TypeReplace messages.
// FromResponse is the inverse.
package live
