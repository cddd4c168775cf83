// This file implements the operational methods of the Engine, wrapping
// registry actions (index create/drop, vector add/delete/search) with
// persistence. Every mutation is appended to the AOF after the in-memory
// state accepts it, so failed operations never reach the log.
package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"

	"github.com/sanonone/quiver/pkg/core"
	"github.com/sanonone/quiver/pkg/core/types"
	"github.com/sanonone/quiver/pkg/metrics"
	"github.com/sanonone/quiver/pkg/persistence"
)

// AOF command names. The on-disk argument layouts are fixed; changing them
// breaks replay of existing log files.
const (
	// opCreateIndex: [name, config JSON]
	opCreateIndex = "CREATE"
	// opDropIndex: [name]
	opDropIndex = "DROP"
	// opAddVector: [index, id, vector, metadata]
	opAddVector = "ADD"
	// opDeleteVector: [index, id]
	opDeleteVector = "DEL"
	// opAdvanceSeq: [index, next id]; keeps id counters monotonic across
	// log compaction, which drops deleted vectors entirely.
	opAdvanceSeq = "SEQ"
)

// CreateIndex creates a named vector index. Creating an index that already
// exists with an identical configuration is a no-op; a conflicting
// configuration returns core.IndexExistsError. It reports whether a new
// index was created and persists the operation to the AOF.
func (e *Engine) CreateIndex(name string, cfg core.IndexConfig) (bool, error) {
	created, err := e.DB.CreateVectorIndex(name, cfg)
	if err != nil || !created {
		return created, err
	}

	// Log the normalized config so replay sees filled-in defaults.
	normalized, err := e.DB.GetIndexConfig(name)
	if err != nil {
		return true, err
	}
	cfgJSON, err := json.Marshal(normalized)
	if err != nil {
		return true, fmt.Errorf("failed to encode index config: %w", err)
	}

	if err := e.logCommand(persistence.Command{
		Name: opCreateIndex,
		Args: [][]byte{[]byte(name), cfgJSON},
	}); err != nil {
		return true, err
	}
	return true, nil
}

// DropIndex removes an index and all its vectors.
// The operation is persisted to the AOF.
func (e *Engine) DropIndex(name string) error {
	if err := e.DB.DeleteVectorIndex(name); err != nil {
		return err
	}
	metrics.TotalVectors.DeleteLabelValues(name)

	return e.logCommand(persistence.Command{
		Name: opDropIndex,
		Args: [][]byte{[]byte(name)},
	})
}

// Add inserts a vector into the named index and returns its assigned id.
// The in-memory graph is updated immediately and the operation is appended
// to the AOF for durability.
func (e *Engine) Add(indexName string, vector []float32, metadata string) (uint64, error) {
	idx, err := e.DB.GetVectorIndex(indexName)
	if err != nil {
		return 0, err
	}

	id, err := idx.Add(vector, metadata)
	if err != nil {
		return 0, err
	}
	metrics.TotalVectors.WithLabelValues(indexName).Inc()

	cmd := persistence.Command{
		Name: opAddVector,
		Args: [][]byte{
			[]byte(indexName),
			[]byte(strconv.FormatUint(id, 10)),
			[]byte(float32SliceToString(vector)),
			[]byte(metadata),
		},
	}
	if err := e.logCommand(cmd); err != nil {
		// Memory succeeded but the log did not; the write survives only
		// until restart.
		return id, fmt.Errorf("CRITICAL: persistence failed (data in RAM only): %w", err)
	}
	return id, nil
}

// Delete marks a vector as deleted in the named index. The node stays in
// the graph for routing but disappears from reads and searches.
func (e *Engine) Delete(indexName string, id uint64) error {
	idx, err := e.DB.GetVectorIndex(indexName)
	if err != nil {
		return err
	}
	if err := idx.Delete(id); err != nil {
		return err
	}
	metrics.TotalVectors.WithLabelValues(indexName).Dec()

	return e.logCommand(persistence.Command{
		Name: opDeleteVector,
		Args: [][]byte{[]byte(indexName), []byte(strconv.FormatUint(id, 10))},
	})
}

// Get retrieves the stored vector and metadata for an id.
func (e *Engine) Get(indexName string, id uint64) (types.VectorRecord, error) {
	idx, err := e.DB.GetVectorIndex(indexName)
	if err != nil {
		return types.VectorRecord{}, err
	}
	return idx.Get(id)
}

// Search runs a k-nearest-neighbor query against the named index.
// efSearch overrides the index's configured beam width when positive.
func (e *Engine) Search(indexName string, query []float32, k, efSearch int) ([]types.SearchResult, error) {
	idx, err := e.DB.GetVectorIndex(indexName)
	if err != nil {
		return nil, err
	}
	metrics.SearchesTotal.WithLabelValues(indexName).Inc()
	return idx.Search(query, k, efSearch)
}

// Stats returns the vector counts of the named index.
func (e *Engine) Stats(indexName string) (types.IndexStats, error) {
	return e.DB.Stats(indexName)
}

// ListIndexes returns a description of every index, sorted by name.
func (e *Engine) ListIndexes() []types.IndexInfo {
	return e.DB.ListIndexes()
}

// VacuumIndex physically removes soft-deleted vectors from one index and
// returns how many were dropped. The AOF already contains the delete
// operations, so nothing new is logged.
func (e *Engine) VacuumIndex(indexName string) (int, error) {
	idx, err := e.DB.GetVectorIndex(indexName)
	if err != nil {
		return 0, err
	}
	return idx.Vacuum(), nil
}

// ExportIndex streams a portable snapshot of one index to w.
func (e *Engine) ExportIndex(indexName string, w io.Writer) error {
	return e.DB.ExportIndex(indexName, w)
}

// ImportIndex restores an index from an ExportIndex stream, replacing any
// existing index of that name. A full snapshot is saved afterwards so the
// imported data survives a restart; the import is rejected wholesale when
// the stream fails validation.
func (e *Engine) ImportIndex(indexName string, r io.Reader) error {
	if err := e.DB.ImportIndex(indexName, r); err != nil {
		return err
	}
	stats, err := e.DB.Stats(indexName)
	if err == nil {
		metrics.TotalVectors.WithLabelValues(indexName).Set(float64(stats.Active))
	}
	return e.SaveSnapshot()
}

// logCommand appends a command to the AOF and flushes it, counting the
// write toward the auto-save threshold.
func (e *Engine) logCommand(cmd persistence.Command) error {
	if err := e.AOF.WriteCommand(cmd); err != nil {
		return fmt.Errorf("persistence error (AOF write failed): %w", err)
	}
	// Instant flush for single operations (durability).
	if err := e.AOF.Flush(); err != nil {
		return fmt.Errorf("CRITICAL: persistence flush failed: %w", err)
	}
	atomic.AddInt64(&e.dirtyCounter, 1)
	return nil
}
