// Package types holds the small shared data structures exchanged between the
// index implementations, the registry, and the server layer.
package types

// SearchResult is a single entry returned by a similarity search.
// Score is expressed in the metric's native orientation: similarity for
// cosine and dot product, distance for euclidean.
type SearchResult struct {
	ID       uint64  `json:"id"`
	Score    float64 `json:"score"`
	Metadata string  `json:"metadata,omitempty"`
}

// Candidate is an internal graph node paired with its distance to the query.
// Distance is always "smaller is closer"; similarity metrics are folded
// before they reach a Candidate.
type Candidate struct {
	ID       uint32
	Distance float64
}

// VectorRecord is the stored form of a vector as returned by Get.
type VectorRecord struct {
	ID       uint64    `json:"id"`
	Vector   []float32 `json:"vector"`
	Metadata string    `json:"metadata,omitempty"`
}

// IndexStats counts the records of an index. Total includes soft-deleted
// records; Active does not.
type IndexStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Deleted int `json:"deleted"`
}

// IndexInfo describes a named index for the introspection API.
type IndexInfo struct {
	Name           string `json:"name"`
	Dimension      int    `json:"dimension"`
	Metric         string `json:"metric"`
	Precision      string `json:"precision"`
	M              int    `json:"m"`
	EfConstruction int    `json:"ef_construction"`
	EfSearch       int    `json:"ef_search"`
	Total          int    `json:"total"`
	Active         int    `json:"active"`
	Deleted        int    `json:"deleted"`
}
