package mutation

// Filter keeps one representation of every array method call in a batch.
//
// With includeArrayBatchOps, call records are kept and the derived per-index
// records of the same array are dropped. Without it, call records are dropped
// and the per-index records carry the change. Records not involved in a call
// pass through unchanged, and order is preserved.
func Filter(records []Record, includeArrayBatchOps bool) []Record {
	var calls [][]string
	for i := range records {
		if records[i].Op == OpCall {
			calls = append(calls, records[i].Path)
		}
	}
	if len(calls) == 0 {
		return records
	}

	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Op == OpCall {
			if includeArrayBatchOps {
				out = append(out, r)
			}
			continue
		}
		if includeArrayBatchOps && coveredByCall(r, calls) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// coveredByCall reports whether r is an index-level record on an array that
// a call in the batch already describes.
func coveredByCall(r Record, calls [][]string) bool {
	if !r.Detail.Derived || len(r.Path) == 0 || !isIndexKey(r.Path[len(r.Path)-1]) {
		return false
	}
	parent := parentOf(r.Path)
	for _, c := range calls {
		if samePath(parent, c) {
			return true
		}
	}
	return false
}
