// Package server is the HTTP boundary for a router.
//
// Every request becomes an Event dispatched through the router. Returned
// values are written as text, JSON, redirects or proxied responses; an
// Event nobody answered is a 404. A live response that may still change is
// flattened to its current snapshot and advertised through the X-Live-Port
// header. Subscribers attach with a websocket to
//
//	GET /_live/{id}
//
// and receive the response's replacements and mutation batches. Ports with
// no subscribers expire after Config.PortTTL.
//
// State stores are committed once the Event's lifecycle completes: before
// the answer when the handler is done by then, afterwards otherwise.
package server
