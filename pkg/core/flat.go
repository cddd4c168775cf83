package core

import (
	"sort"
	"sync"

	"github.com/sanonone/quiver/pkg/core/distance"
	"github.com/sanonone/quiver/pkg/core/hnsw"
	"github.com/sanonone/quiver/pkg/core/types"
)

// FlatIndex is an exact, brute-force counterpart of the HNSW index. It scans
// every live vector on each search, so it is only suitable for small
// collections and for verifying the recall of the approximate index.
type FlatIndex struct {
	mu      sync.RWMutex
	dim     int
	metric  distance.Metric
	distFn  distance.DistanceFuncF32
	records []*types.VectorRecord // nil slots mark deletions
	nextID  uint64
}

// NewFlatIndex creates an empty exact index.
func NewFlatIndex(dim int, metric distance.Metric) (*FlatIndex, error) {
	metric, err := distance.ParseMetric(string(metric))
	if err != nil {
		return nil, err
	}
	fn, err := distance.GetFloat32Func(metric)
	if err != nil {
		return nil, err
	}
	return &FlatIndex{dim: dim, metric: metric, distFn: fn, nextID: 1}, nil
}

// Add stores a vector and returns its assigned id.
func (f *FlatIndex) Add(vector []float32, metadata string) (uint64, error) {
	if len(vector) != f.dim {
		return 0, &hnsw.DimensionMismatchError{Expected: f.dim, Got: len(vector)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.records = append(f.records, &types.VectorRecord{ID: id, Vector: vector, Metadata: metadata})
	return id, nil
}

// Delete removes a vector. Ids are not reused.
func (f *FlatIndex) Delete(id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot := int(id) - 1
	if id == 0 || slot >= len(f.records) || f.records[slot] == nil {
		return &hnsw.VectorNotFoundError{ID: id}
	}
	f.records[slot] = nil
	return nil
}

// Get returns a stored record.
func (f *FlatIndex) Get(id uint64) (types.VectorRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	slot := int(id) - 1
	if id == 0 || slot >= len(f.records) || f.records[slot] == nil {
		return types.VectorRecord{}, &hnsw.VectorNotFoundError{ID: id}
	}
	return *f.records[slot], nil
}

// Search returns the exact k nearest vectors in rank order.
func (f *FlatIndex) Search(query []float32, k int, _ int) ([]types.SearchResult, error) {
	if len(query) != f.dim {
		return nil, &hnsw.DimensionMismatchError{Expected: f.dim, Got: len(query)}
	}
	if k <= 0 {
		return []types.SearchResult{}, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	candidates := make([]types.SearchResult, 0, len(f.records))
	for _, rec := range f.records {
		if rec == nil {
			continue
		}
		d, err := f.distFn(query, rec.Vector)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, types.SearchResult{
			ID:       rec.ID,
			Score:    d, // internal distance until the final sort
			Metadata: rec.Metadata,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score < candidates[j].Score
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	for i := range candidates {
		candidates[i].Score = distance.Score(f.metric, candidates[i].Score)
	}
	return candidates, nil
}

// Stats counts the index's records.
func (f *FlatIndex) Stats() types.IndexStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	total := 0
	for _, rec := range f.records {
		if rec != nil {
			total++
		}
	}
	return types.IndexStats{Total: total, Active: total, Deleted: 0}
}
