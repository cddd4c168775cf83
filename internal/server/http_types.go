package server

import "github.com/sanonone/quiver/pkg/core/types"

// Request and response bodies of the REST API. Index and vector payloads
// reuse the shared types package where the shapes match.

type createIndexRequest struct {
	Dimension      int    `json:"dimension"`
	Metric         string `json:"metric"`
	Precision      string `json:"precision,omitempty"`
	M              int    `json:"m,omitempty"`
	EfConstruction int    `json:"ef_construction,omitempty"`
	EfSearch       int    `json:"ef_search,omitempty"`
	Seed           uint64 `json:"seed,omitempty"`
}

type createIndexResponse struct {
	Created bool `json:"created"`
}

type addVectorRequest struct {
	Vector   []float32 `json:"vector"`
	Metadata string    `json:"metadata,omitempty"`
}

type addVectorResponse struct {
	ID uint64 `json:"id"`
}

type searchRequest struct {
	Vector   []float32 `json:"vector"`
	K        int       `json:"k,omitempty"`
	EfSearch int       `json:"ef_search,omitempty"`
}

type searchResponse struct {
	Results []types.SearchResult `json:"results"`
}

type listIndexesResponse struct {
	Indexes []types.IndexInfo `json:"indexes"`
}

type vacuumResponse struct {
	Removed int `json:"removed"`
}

// errorResponse is the uniform error body: a machine-readable code plus a
// human-readable message.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
