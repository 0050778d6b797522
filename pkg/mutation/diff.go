package mutation

import (
	"sort"
	"strconv"
)

// Diff returns the records that turn prev into next, rooted at path.
// Containers of the same kind are compared recursively; anything else that
// differs becomes a single set record. Map keys are visited in sorted order
// so the output is deterministic.
func Diff(path []string, prev, next any) []Record {
	var out []Record
	diffInto(&out, path, prev, next)
	return out
}

func diffInto(out *[]Record, path []string, prev, next any) {
	switch p := prev.(type) {
	case map[string]any:
		n, ok := next.(map[string]any)
		if !ok {
			*out = append(*out, setRecord(path, next))
			return
		}
		for _, k := range sortedKeys(p) {
			if _, still := n[k]; !still {
				*out = append(*out, Record{Path: appendPath(path, k), Op: OpDelete})
			}
		}
		for _, k := range sortedKeys(n) {
			pv, had := p[k]
			if !had {
				*out = append(*out, setRecord(appendPath(path, k), n[k]))
				continue
			}
			diffInto(out, appendPath(path, k), pv, n[k])
		}

	case []any:
		n, ok := next.([]any)
		if !ok {
			*out = append(*out, setRecord(path, next))
			return
		}
		shared := min(len(p), len(n))
		for i := 0; i < shared; i++ {
			diffInto(out, appendPath(path, strconv.Itoa(i)), p[i], n[i])
		}
		for i := shared; i < len(n); i++ {
			*out = append(*out, setRecord(appendPath(path, strconv.Itoa(i)), n[i]))
		}
		if len(n) != len(p) {
			*out = append(*out, Record{Path: appendPath(path, "length"), Op: OpSet, Value: len(n)})
		}

	default:
		if IsPlain(next) || !scalarEqual(prev, next) {
			*out = append(*out, setRecord(path, next))
		}
	}
}

func setRecord(path []string, v any) Record {
	return Record{Path: path, Op: OpSet, Value: Clone(v)}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
