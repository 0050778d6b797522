// Package mutation observes structural changes to plain value trees and
// replays them elsewhere.
//
// A plain value tree is built from map[string]any, []any and JSON scalars
// (string, float64, int, bool, nil). Changes are described by Records:
//
//	{path: ["items", "2"], operation: "set", value: "x"}
//	{path: ["items"], operation: "call", method: "splice", args: [0, 1]}
//
// An Object wraps a tree and is the single mutation authority for it. Every
// Set, Delete, Call or Batch produces one ordered batch of records delivered
// to the Object's observers. Apply replays a batch onto another tree; the
// whole batch is applied or none of it is.
//
// Array method calls emit both the call record and the per-index records it
// implies (flagged Derived). Filter keeps exactly one representation:
//
//	records = mutation.Filter(batch, includeArrayBatchOps)
//
// Diff computes the set/delete records turning one tree into another, which
// Object.Assign uses to replace a subtree while emitting only real changes.
package mutation
