package mutation

import (
	"fmt"
)

// Apply replays records onto root in order and returns the resulting root.
//
// The batch is atomic: records are applied to a copy of root, and root is
// only superseded when every record succeeded. On error the original root is
// returned untouched alongside the error. Derived index records are skipped
// when their method call is present, so unfiltered batches replay once.
func Apply(root any, records []Record) (any, error) {
	records = Filter(records, true)
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return root, fmt.Errorf("record %d (%s): %w", i, records[i], err)
		}
	}

	work := Clone(root)
	for i := range records {
		var err error
		work, err = applyOne(work, records[i])
		if err != nil {
			return root, fmt.Errorf("record %d (%s): %w", i, records[i], err)
		}
	}
	return work, nil
}

func applyOne(root any, r Record) (any, error) {
	switch r.Op {
	case OpSet:
		return setIn(root, r.Path, Clone(r.Value))
	case OpDelete:
		return deleteIn(root, r.Path)
	case OpCall:
		target, ok := Get(root, r.Path)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPath, r.Path)
		}
		s, ok := target.([]any)
		if !ok {
			return nil, ErrNotArray
		}
		updated, _, err := callArray(s, r.Method, Clone(r.Args).([]any))
		if err != nil {
			return nil, err
		}
		if len(r.Path) == 0 {
			return updated, nil
		}
		return setIn(root, r.Path, updated)
	case OpEnd:
		return root, nil
	default:
		return nil, ErrInvalidRecord
	}
}
