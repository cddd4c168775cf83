package core

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/sanonone/quiver/pkg/core/hnsw"
)

const dbSnapshotVersion = 1

// dbSnapshot is the gob envelope for a full registry dump. Each index is
// serialized independently with its own format (see hnsw.Export), so index
// snapshots taken on their own stay interchangeable with registry ones.
type dbSnapshot struct {
	Version int
	Indexes []indexBlob
}

type indexBlob struct {
	Name   string
	Config IndexConfig
	Data   []byte
}

// SaveSnapshot writes the state of every index to w.
func (db *DB) SaveSnapshot(w io.Writer) error {
	db.mu.RLock()
	entries := make([]indexEntry, 0, db.indexes.Len())
	db.indexes.Scan(func(entry indexEntry) bool {
		entries = append(entries, entry)
		return true
	})
	db.mu.RUnlock()

	snap := dbSnapshot{Version: dbSnapshotVersion, Indexes: make([]indexBlob, 0, len(entries))}
	for _, entry := range entries {
		var buf bytes.Buffer
		if err := entry.idx.Export(&buf); err != nil {
			return fmt.Errorf("failed to export index %q: %w", entry.name, err)
		}
		snap.Indexes = append(snap.Indexes, indexBlob{
			Name:   entry.name,
			Config: entry.cfg,
			Data:   buf.Bytes(),
		})
	}
	return gob.NewEncoder(w).Encode(snap)
}

// LoadSnapshot restores the registry from a SaveSnapshot stream. All indexes
// are validated before any of them replaces registry state, so a corrupt
// snapshot leaves the registry untouched.
func (db *DB) LoadSnapshot(r io.Reader) error {
	var snap dbSnapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("%w: %v", hnsw.ErrCorruptSnapshot, err)
	}
	if snap.Version != dbSnapshotVersion {
		return fmt.Errorf("%w: unsupported snapshot version %d", hnsw.ErrCorruptSnapshot, snap.Version)
	}

	restored := make([]indexEntry, 0, len(snap.Indexes))
	for _, blob := range snap.Indexes {
		if blob.Name == "" {
			return fmt.Errorf("%w: index blob without a name", hnsw.ErrCorruptSnapshot)
		}
		idx, err := hnsw.Import(bytes.NewReader(blob.Data))
		if err != nil {
			return fmt.Errorf("index %q: %w", blob.Name, err)
		}
		restored = append(restored, indexEntry{name: blob.Name, cfg: blob.Config, idx: idx})
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	for _, entry := range restored {
		db.indexes.Set(entry)
	}
	return nil
}
