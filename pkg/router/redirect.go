package router

import "net/http"

// Redirection is a handler result asking the boundary adapter to redirect.
type Redirection struct {
	Status   int
	Location string
}

// Redirect returns a Redirection. A status outside 3xx becomes 302.
func Redirect(status int, location string) *Redirection {
	if status < 300 || status > 399 {
		status = http.StatusFound
	}
	return &Redirection{Status: status, Location: location}
}
