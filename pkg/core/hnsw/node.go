// Package hnsw implements the Hierarchical Navigable Small World graph for
// approximate nearest neighbor search.
//
// This file defines the Node struct, the building block of the graph. Each
// node holds one vector, its optional metadata, and its neighbor lists per
// layer.
package hnsw

// Node is a single graph node. All fields are protected by the owning
// Index's mutex; nodes are never shared across indexes.
type Node struct {
	// ID is the caller-facing identifier, assigned by the index counter.
	// It is always internalID(n) + 1, so ids start at 1 and are never reused.
	ID uint64

	// Exactly one of the vector fields is populated, matching the index
	// precision. Once published a vector slice is treated as immutable.
	VectorF32 []float32
	VectorF16 []uint16
	VectorI8  []int8

	// Metadata is an opaque payload stored with the vector and returned
	// alongside search results.
	Metadata string

	// Connections[l] holds the neighbor internal ids at layer l.
	// Connections[0] is the base layer.
	Connections [][]uint32

	// Deleted marks a soft-deleted node. Deleted nodes stay traversable so
	// the graph does not fragment, but never appear in results.
	Deleted bool
}

// internalID converts an external id to the node's slot in the index.
func internalID(id uint64) uint32 {
	return uint32(id - 1)
}

// externalID converts a slot index back to the caller-facing id.
func externalID(internal uint32) uint64 {
	return uint64(internal) + 1
}
