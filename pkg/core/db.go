// Package core implements the named index registry. A DB owns a set of HNSW
// indexes keyed by name; each index carries its own lock, so operations on
// different indexes never contend. The registry lock only guards the name
// table itself.
package core

import (
	"fmt"
	"io"
	"sync"

	"github.com/tidwall/btree"

	"github.com/sanonone/quiver/pkg/core/distance"
	"github.com/sanonone/quiver/pkg/core/hnsw"
	"github.com/sanonone/quiver/pkg/core/types"
)

// IndexConfig is the immutable configuration of a named index.
type IndexConfig struct {
	Dimension int                    `json:"dimension"`
	Metric    distance.Metric        `json:"metric"`
	Precision distance.PrecisionType `json:"precision,omitempty"`
	HNSW      hnsw.Config            `json:"hnsw"`
}

// Normalize fills defaults and validates the config.
func (c IndexConfig) Normalize() (IndexConfig, error) {
	if c.Dimension <= 0 {
		return c, fmt.Errorf("dimension must be positive, got %d", c.Dimension)
	}
	metric, err := distance.ParseMetric(string(c.Metric))
	if err != nil {
		return c, err
	}
	c.Metric = metric
	precision, err := distance.ParsePrecision(string(c.Precision))
	if err != nil {
		return c, err
	}
	c.Precision = precision
	return c, nil
}

// Equal reports whether two configs describe the same index. Used to decide
// between idempotent-create and conflict.
func (c IndexConfig) Equal(other IndexConfig) bool {
	return c.Dimension == other.Dimension &&
		c.Metric == other.Metric &&
		c.Precision == other.Precision &&
		c.HNSW.Equal(other.HNSW)
}

// indexEntry pairs a named index with its configuration inside the registry
// tree, which keeps entries ordered by name.
type indexEntry struct {
	name string
	cfg  IndexConfig
	idx  *hnsw.Index
}

func entryLess(a, b indexEntry) bool { return a.name < b.name }

// DB is the registry of named vector indexes.
type DB struct {
	mu      sync.RWMutex
	indexes *btree.BTreeG[indexEntry]
}

// NewDB creates an empty registry.
func NewDB() *DB {
	return &DB{indexes: btree.NewBTreeG(entryLess)}
}

// CreateVectorIndex creates a named index. Creating an index that already
// exists with an identical configuration is a no-op; a name collision with a
// different configuration returns IndexExistsError. It reports whether a new
// index was created.
func (db *DB) CreateVectorIndex(name string, cfg IndexConfig) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("index name must not be empty")
	}
	cfg, err := cfg.Normalize()
	if err != nil {
		return false, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if existing, ok := db.indexes.Get(indexEntry{name: name}); ok {
		if existing.cfg.Equal(cfg) {
			return false, nil
		}
		return false, &IndexExistsError{Name: name, Existing: existing.cfg}
	}

	idx, err := hnsw.New(cfg.Dimension, cfg.HNSW, cfg.Metric, cfg.Precision)
	if err != nil {
		return false, err
	}
	db.indexes.Set(indexEntry{name: name, cfg: cfg, idx: idx})
	return true, nil
}

// DeleteVectorIndex removes a named index and all its vectors.
func (db *DB) DeleteVectorIndex(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.indexes.Delete(indexEntry{name: name}); !ok {
		return &IndexNotFoundError{Name: name}
	}
	return nil
}

// GetVectorIndex resolves a name to its index.
func (db *DB) GetVectorIndex(name string) (*hnsw.Index, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	entry, ok := db.indexes.Get(indexEntry{name: name})
	if !ok {
		return nil, &IndexNotFoundError{Name: name}
	}
	return entry.idx, nil
}

// GetIndexConfig returns the configuration an index was created with.
func (db *DB) GetIndexConfig(name string) (IndexConfig, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	entry, ok := db.indexes.Get(indexEntry{name: name})
	if !ok {
		return IndexConfig{}, &IndexNotFoundError{Name: name}
	}
	return entry.cfg, nil
}

// Stats returns the record counts of a named index.
func (db *DB) Stats(name string) (types.IndexStats, error) {
	idx, err := db.GetVectorIndex(name)
	if err != nil {
		return types.IndexStats{}, err
	}
	return idx.Stats(), nil
}

// ListIndexes describes every index, sorted by name.
func (db *DB) ListIndexes() []types.IndexInfo {
	db.mu.RLock()
	defer db.mu.RUnlock()

	infos := make([]types.IndexInfo, 0, db.indexes.Len())
	db.indexes.Scan(func(entry indexEntry) bool {
		stats := entry.idx.Stats()
		params := entry.idx.Params()
		infos = append(infos, types.IndexInfo{
			Name:           entry.name,
			Dimension:      entry.cfg.Dimension,
			Metric:         string(entry.cfg.Metric),
			Precision:      string(entry.cfg.Precision),
			M:              params.M,
			EfConstruction: params.EfConstruction,
			EfSearch:       params.EfSearch,
			Total:          stats.Total,
			Active:         stats.Active,
			Deleted:        stats.Deleted,
		})
		return true
	})
	return infos
}

// IndexNames returns the sorted index names.
func (db *DB) IndexNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, db.indexes.Len())
	db.indexes.Scan(func(entry indexEntry) bool {
		names = append(names, entry.name)
		return true
	})
	return names
}

// ExportIndex writes the named index's full state to w.
func (db *DB) ExportIndex(name string, w io.Writer) error {
	idx, err := db.GetVectorIndex(name)
	if err != nil {
		return err
	}
	return idx.Export(w)
}

// ImportIndex restores an index from snapshot data under the given name,
// replacing any existing index of that name. Nothing is replaced when the
// data fails validation.
func (db *DB) ImportIndex(name string, r io.Reader) error {
	if name == "" {
		return fmt.Errorf("index name must not be empty")
	}
	idx, err := hnsw.Import(r)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.indexes.Set(indexEntry{
		name: name,
		cfg: IndexConfig{
			Dimension: idx.Dimension(),
			Metric:    idx.Metric(),
			Precision: idx.Precision(),
			HNSW:      idx.Params(),
		},
		idx: idx,
	})
	return nil
}

// Vacuum compacts every index whose deleted ratio crossed the threshold and
// returns the number of indexes compacted.
func (db *DB) Vacuum() int {
	db.mu.RLock()
	entries := make([]indexEntry, 0, db.indexes.Len())
	db.indexes.Scan(func(entry indexEntry) bool {
		entries = append(entries, entry)
		return true
	})
	db.mu.RUnlock()

	compacted := 0
	for _, entry := range entries {
		if entry.idx.VacuumIfNeeded() {
			compacted++
		}
	}
	return compacted
}
