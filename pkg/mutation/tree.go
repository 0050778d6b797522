package mutation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// IsPlain reports whether v is a structured plain value (an object or array)
// that can be observed and replicated.
func IsPlain(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

// Normalize converts v into a plain tree. Plain trees are deep-copied;
// anything else goes through a JSON round trip.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, float64, int, int64:
		return x, nil
	case map[string]any, []any:
		return Clone(x), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mutation: normalize %T: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("mutation: normalize %T: %w", v, err)
	}
	return out, nil
}

// Clone deep-copies a plain tree. Non-container values are returned as is.
func Clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}

// Get walks path from root.
func Get(root any, path []string) (any, bool) {
	cur := root
	for _, key := range path {
		next, ok := child(cur, key)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func child(v any, key string) (any, bool) {
	switch x := v.(type) {
	case map[string]any:
		val, ok := x[key]
		return val, ok
	case []any:
		if key == "length" {
			return len(x), true
		}
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(x) {
			return nil, false
		}
		return x[i], true
	default:
		return nil, false
	}
}

// setIn assigns value at path and returns the (possibly reallocated) root.
// Slices grow by reallocation, so parents are rewritten on the way back up.
func setIn(root any, path []string, value any) (any, error) {
	if len(path) == 0 {
		return nil, ErrRootReplace
	}
	return setRec(root, path, value)
}

func setRec(node any, path []string, value any) (any, error) {
	key := path[0]
	last := len(path) == 1

	switch x := node.(type) {
	case map[string]any:
		if last {
			x[key] = value
			return x, nil
		}
		next, ok := x[key]
		if !ok {
			return nil, fmt.Errorf("%w: missing key %q", ErrInvalidPath, key)
		}
		updated, err := setRec(next, path[1:], value)
		if err != nil {
			return nil, err
		}
		x[key] = updated
		return x, nil

	case []any:
		if key == "length" {
			if !last {
				return nil, fmt.Errorf("%w: length is not a container", ErrInvalidPath)
			}
			n, ok := toInt(value)
			if !ok || n < 0 {
				return nil, fmt.Errorf("%w: bad length %v", ErrInvalidRecord, value)
			}
			return resize(x, n), nil
		}
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("%w: bad index %q", ErrInvalidPath, key)
		}
		if last {
			if i >= len(x) {
				x = resize(x, i+1)
			}
			x[i] = value
			return x, nil
		}
		if i >= len(x) {
			return nil, fmt.Errorf("%w: index %d out of range", ErrInvalidPath, i)
		}
		updated, err := setRec(x[i], path[1:], value)
		if err != nil {
			return nil, err
		}
		x[i] = updated
		return x, nil

	default:
		return nil, fmt.Errorf("%w: %q on %T", ErrInvalidPath, key, node)
	}
}

// deleteIn removes the key at path. Deleting an array's last index shrinks
// it; any other index is cleared to nil.
func deleteIn(root any, path []string) (any, error) {
	if len(path) == 0 {
		return nil, ErrRootReplace
	}
	parentPath := parentOf(path)
	key := path[len(path)-1]

	parent, ok := Get(root, parentPath)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, parentPath)
	}
	switch x := parent.(type) {
	case map[string]any:
		delete(x, key)
		return root, nil
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("%w: bad index %q", ErrInvalidPath, key)
		}
		if i >= len(x) {
			return root, nil
		}
		if i == len(x)-1 {
			if len(parentPath) == 0 {
				return x[:i], nil
			}
			return setIn(root, parentPath, x[:i])
		}
		x[i] = nil
		return root, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, parentPath)
	}
}

func resize(s []any, n int) []any {
	if n <= len(s) {
		return s[:n]
	}
	out := make([]any, n)
	copy(out, s)
	return out
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

// scalarEqual compares two leaf values, treating numeric kinds alike.
func scalarEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
