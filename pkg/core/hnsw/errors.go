package hnsw

import (
	"errors"
	"fmt"
)

// ErrCorruptSnapshot is returned when imported snapshot data fails
// structural validation. Wrapped errors carry the specific inconsistency.
var ErrCorruptSnapshot = errors.New("corrupt index snapshot")

// DimensionMismatchError is returned when a vector's length does not match
// the index dimension. The index is never mutated when it is returned.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// VectorNotFoundError is returned when an id does not resolve to a live
// vector. Soft-deleted vectors count as not found.
type VectorNotFoundError struct {
	ID uint64
}

func (e *VectorNotFoundError) Error() string {
	return fmt.Sprintf("vector %d not found", e.ID)
}
