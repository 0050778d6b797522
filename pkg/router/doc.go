// Package router resolves destinations against a directory-shaped route
// table and runs the handlers it finds.
//
// # Table
//
// A Table maps canonical paths to entries. An entry maps verbs (an HTTP
// method or DefaultVerb) to handlers and may be registered lazily. A
// segment named "-" is a wildcard:
//
//	t := router.NewTable()
//	t.Handle("/users/alice", router.DefaultVerb, aliceHandler)
//	t.Handle("/users/-", http.MethodGet, userHandler)
//
// # Resolution
//
// Resolution walks the destination one segment per tick. At each tick the
// entry at the trail is consulted; when it has a handler for the request
// method or DefaultVerb, that handler runs. Otherwise, or when the handler
// continues with Next, resolution descends: an exact child is preferred to
// a wildcard child, and either is taken as long as it has an entry or
// entries below it. When nothing matches the fallback answers.
//
// # Continuations
//
//	func(t *router.Tick) (any, error) {
//	    if !authorised(t.Event) {
//	        return router.Redirect(http.StatusSeeOther, "/login"), nil
//	    }
//	    return t.Next("", nil)
//	}
//
// Next("") resumes below the trail. Relative targets resolve against the
// trail and may not leave the root (R001); absolute targets restart at the
// root; remote targets fail (R002) unless passed to Fetch, which hands them
// to the FetchFunc.
//
// A handler may return a value or push values into t.Event. See package
// event for the rules tying the two together.
package router
