// Package event implements the per-interaction Event.
//
// An Event carries the request, navigation detail and state stores of one
// interaction, a cancellation context, a set of deferred tasks and the live
// value slot a handler answers through.
//
// # Lifecycle
//
// WaitUntil registers deferred work. Once the pending set has been non-empty
// and drains, the Event settles exactly once: resolved when every task
// succeeded, rejected with the first failure otherwise. Registering work
// after that is an L001 error.
//
//	e := event.New(r)
//	e.WaitUntil(task.Go(ctx, sendAnalytics))
//	...
//	<-e.LifeCycleComplete(nil).Done()
//	e.Commit(ctx, w.Header())
//
// Extend creates a child whose context is cancelled with the parent's and
// whose completion is folded into the parent's pending set. Clone creates an
// unlinked sibling.
//
// # Responding
//
// A handler either returns a value or pushes values into the Event's Holder.
// The first push makes the outcome a live response; further pushes replace
// its snapshot. Pushing after a value was returned is a D001 error.
package event
