package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrBackendClosed is returned by operations on a closed backend.
var ErrBackendClosed = errors.New("state: backend closed")

// Backend persists serialized records by id. Implementations must be safe
// for concurrent use.
type Backend interface {
	// Save writes data for id, replacing any previous record.
	Save(ctx context.Context, id string, data []byte, expiresAt time.Time) error

	// Load returns the record for id, or (nil, nil) when it is missing or
	// expired.
	Load(ctx context.Context, id string) ([]byte, error)

	// Delete removes id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases backend resources.
	Close() error
}

// record is the serialized form of a Store.
type record struct {
	ID        string                     `json:"id"`
	Values    map[string]json.RawMessage `json:"values,omitempty"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Version   int                        `json:"version"`
}

// recordVersion is the current serialization version.
const recordVersion = 1

func encodeRecord(r *record) ([]byte, error) {
	r.Version = recordVersion
	return json.Marshal(r)
}

func decodeRecord(data []byte) (*record, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
