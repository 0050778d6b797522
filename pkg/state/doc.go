// Package state provides the per-interaction state stores an event exposes:
// a cookie jar, a session store and a user store.
//
// Session and user stores are key/value bags loaded from a Backend and
// written back on Commit. Backends persist one serialized record per id:
//
//   - MemoryBackend for single-process deployments and tests
//   - PGBackend on PostgreSQL through pgx
//   - S3Backend on an S3 bucket through aws-sdk-go-v2
//
// Stores.Commit writes cookies first, then the session, then the user
// store, and stops at the first failure.
package state
