// Package errors provides coded, categorised errors for the liveroute runtime.
//
// Every failure the core surfaces to a caller belongs to one category of the
// runtime's error taxonomy:
//   - routing: traversal above the routing root, remote URLs handed to next()
//   - dispatch: a live value pushed after the dispatch already resolved
//   - lifecycle: waitUntil after the event settled, use after abort
//   - handler: errors returned by route handlers (passed through unchanged)
//   - sync: malformed or unresolvable mutation batches
//   - transport: closed ports, incompatible peers
//   - config: invalid process configuration
//   - command: any other failure reported by the command line
//
// # Error Codes
//
// Each error has a unique code (e.g., "R001") that maps to a short message, a
// detailed explanation and the sentinel it wraps:
//
//	err := errors.New("R001").
//	    WithDetail("next(\"../../x\") from /users").
//	    Wrap(routepath.ErrPathEscapesRoot)
//
//	fmt.Print(err.Format(errors.Style{}))
//	// Output:
//	// error R001: Path escapes routing root
//	//     next("../../x") from /users
//	//     caused by: path escapes root via ..
//
// Sentinels stay reachable through errors.Is because Error implements Unwrap.
package errors
