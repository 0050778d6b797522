package mutation

import "fmt"

// Array methods understood by Object.Call and by replay.
const (
	MethodPush    = "push"
	MethodPop     = "pop"
	MethodShift   = "shift"
	MethodUnshift = "unshift"
	MethodSplice  = "splice"
	MethodReverse = "reverse"
)

// callArray applies method to s. It returns the new slice and the method's
// result (new length for push/unshift, removed element(s) otherwise).
func callArray(s []any, method string, args []any) ([]any, any, error) {
	switch method {
	case MethodPush:
		out := make([]any, 0, len(s)+len(args))
		out = append(out, s...)
		out = append(out, args...)
		return out, len(out), nil

	case MethodPop:
		if len(s) == 0 {
			return s, nil, nil
		}
		last := s[len(s)-1]
		return s[:len(s)-1:len(s)-1], last, nil

	case MethodShift:
		if len(s) == 0 {
			return s, nil, nil
		}
		first := s[0]
		out := make([]any, len(s)-1)
		copy(out, s[1:])
		return out, first, nil

	case MethodUnshift:
		out := make([]any, 0, len(s)+len(args))
		out = append(out, args...)
		out = append(out, s...)
		return out, len(out), nil

	case MethodSplice:
		return splice(s, args)

	case MethodReverse:
		out := make([]any, len(s))
		for i, v := range s {
			out[len(s)-1-i] = v
		}
		return out, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// splice follows Array.prototype.splice: (start, deleteCount, ...items).
// Negative start counts from the end; a missing deleteCount removes the rest.
func splice(s []any, args []any) ([]any, any, error) {
	n := len(s)
	start := 0
	if len(args) > 0 {
		v, ok := toInt(args[0])
		if !ok {
			return nil, nil, fmt.Errorf("%w: splice start %v", ErrInvalidRecord, args[0])
		}
		start = v
	}
	if start < 0 {
		start = max(n+start, 0)
	}
	start = min(start, n)

	deleteCount := n - start
	if len(args) > 1 {
		v, ok := toInt(args[1])
		if !ok {
			return nil, nil, fmt.Errorf("%w: splice deleteCount %v", ErrInvalidRecord, args[1])
		}
		deleteCount = min(max(v, 0), n-start)
	}

	var items []any
	if len(args) > 2 {
		items = args[2:]
	}

	removed := make([]any, deleteCount)
	copy(removed, s[start:start+deleteCount])

	out := make([]any, 0, n-deleteCount+len(items))
	out = append(out, s[:start]...)
	out = append(out, items...)
	out = append(out, s[start+deleteCount:]...)
	return out, removed, nil
}
