package mutation

import (
	"errors"
	"strconv"
	"strings"
)

// Op is the kind of a mutation record.
type Op string

const (
	// OpSet assigns Value at Path.
	OpSet Op = "set"
	// OpDelete removes the key or index at Path.
	OpDelete Op = "delete"
	// OpCall invokes Method with Args on the array at Path.
	OpCall Op = "call"
	// OpEnd carries no data change; it marks the end of a frame.
	OpEnd Op = "end"
)

// Detail carries per-record flags.
type Detail struct {
	// Done marks the last batch of a frame.
	Done bool `json:"done,omitempty"`

	// Derived marks an index-level record implied by a method call in the
	// same batch.
	Derived bool `json:"derived,omitempty"`
}

// Record is one structural change, addressed by its key path from the root.
type Record struct {
	Path   []string `json:"path"`
	Op     Op       `json:"operation"`
	Value  any      `json:"value,omitempty"`
	Method string   `json:"method,omitempty"`
	Args   []any    `json:"args,omitempty"`
	Detail Detail   `json:"detail,omitempty"`
}

// Batch is an ordered group of records belonging to one frame.
type Batch struct {
	Frame   string   `json:"frame"`
	Seq     uint64   `json:"seq"`
	Records []Record `json:"records"`
}

// Done reports whether any record in the batch ends the frame.
func (b Batch) Done() bool {
	return HasDone(b.Records)
}

// HasDone reports whether any record carries Detail.Done.
func HasDone(records []Record) bool {
	for i := range records {
		if records[i].Detail.Done {
			return true
		}
	}
	return false
}

// String renders the record path for logs ("items.2").
func (r Record) String() string {
	return string(r.Op) + " " + strings.Join(r.Path, ".")
}

// Mutation errors.
var (
	ErrInvalidPath   = errors.New("mutation: path does not resolve")
	ErrInvalidRecord = errors.New("mutation: malformed record")
	ErrNotArray      = errors.New("mutation: method call target is not an array")
	ErrUnknownMethod = errors.New("mutation: unknown array method")
	ErrRootReplace   = errors.New("mutation: cannot replace or delete the root")
	ErrClosed        = errors.New("mutation: object closed")
)

// Validate checks the record's shape without touching any tree.
func (r Record) Validate() error {
	switch r.Op {
	case OpSet, OpDelete:
		if len(r.Path) == 0 {
			return ErrRootReplace
		}
	case OpCall:
		if r.Method == "" {
			return ErrInvalidRecord
		}
	case OpEnd:
	default:
		return ErrInvalidRecord
	}
	return nil
}

func parentOf(path []string) []string {
	if len(path) == 0 {
		return nil
	}
	return path[:len(path)-1]
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isIndexKey(key string) bool {
	if key == "length" {
		return true
	}
	_, err := strconv.Atoi(key)
	return err == nil
}

func appendPath(path []string, key string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = key
	return out
}
