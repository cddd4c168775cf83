package hnsw

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/sanonone/quiver/pkg/core/distance"
)

// snapshotVersion identifies the on-disk format. Import rejects anything it
// does not know how to read.
const snapshotVersion = 1

// snapshot is the gob-encoded form of an index. Nodes are keyed by internal
// id because gob cannot represent the nil holes of the node slice.
type snapshot struct {
	Version    int
	Dimension  int
	Metric     string
	Precision  string
	Config     Config
	NextID     uint64
	Entrypoint uint32
	MaxLevel   int
	AbsMax     float32
	Nodes      map[uint32]*Node
}

// Export writes the complete index state to w. The snapshot includes
// soft-deleted nodes so an import restores the graph bit for bit.
func (h *Index) Export(w io.Writer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := snapshot{
		Version:    snapshotVersion,
		Dimension:  h.dim,
		Metric:     string(h.metric),
		Precision:  string(h.precision),
		Config:     h.cfg,
		NextID:     h.nextID,
		Entrypoint: h.entrypointID,
		MaxLevel:   h.maxLevel,
		Nodes:      make(map[uint32]*Node, len(h.nodes)),
	}
	if h.quantizer != nil {
		snap.AbsMax = h.quantizer.AbsMax
	}
	for internal, node := range h.nodes {
		if node != nil {
			snap.Nodes[uint32(internal)] = node
		}
	}

	if err := gob.NewEncoder(w).Encode(&snap); err != nil {
		return fmt.Errorf("encoding index snapshot: %w", err)
	}
	return nil
}

// Import reads a snapshot produced by Export and returns the restored
// index. It validates the structure before accepting anything: malformed or
// inconsistent data fails fast with ErrCorruptSnapshot and no partially
// loaded index is ever returned.
func Import(r io.Reader) (*Index, error) {
	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, snap.Version)
	}
	if snap.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrCorruptSnapshot, snap.Dimension)
	}
	metric, err := distance.ParseMetric(snap.Metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	precision, err := distance.ParsePrecision(snap.Precision)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if snap.NextID == 0 {
		return nil, fmt.Errorf("%w: zero id counter", ErrCorruptSnapshot)
	}

	if err := validateNodes(&snap, precision); err != nil {
		return nil, err
	}

	h, err := New(snap.Dimension, snap.Config, metric, precision)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID = snap.NextID
	h.entrypointID = snap.Entrypoint
	h.maxLevel = snap.MaxLevel
	if h.quantizer != nil {
		h.quantizer.AbsMax = snap.AbsMax
	}

	h.nodes = make([]*Node, snap.NextID-1)
	h.deletedCount = 0
	for internal, node := range snap.Nodes {
		h.nodes[internal] = node
		if node.Deleted {
			h.deletedCount++
		}
	}

	return h, nil
}

// validateNodes checks the structural invariants of a decoded snapshot:
// ids within the counter range, vectors matching the dimension and
// precision, no dangling neighbor references, and a coherent entry point.
func validateNodes(snap *snapshot, precision distance.PrecisionType) error {
	for internal, node := range snap.Nodes {
		if node == nil {
			return fmt.Errorf("%w: nil node at slot %d", ErrCorruptSnapshot, internal)
		}
		if node.ID != externalID(internal) {
			return fmt.Errorf("%w: node at slot %d carries id %d", ErrCorruptSnapshot, internal, node.ID)
		}
		if node.ID >= snap.NextID {
			return fmt.Errorf("%w: id %d beyond counter %d", ErrCorruptSnapshot, node.ID, snap.NextID)
		}

		var length int
		switch precision {
		case distance.Float32:
			length = len(node.VectorF32)
		case distance.Float16:
			length = len(node.VectorF16)
		case distance.Int8:
			length = len(node.VectorI8)
		}
		if length != snap.Dimension {
			return fmt.Errorf("%w: vector %d has length %d, want %d", ErrCorruptSnapshot, node.ID, length, snap.Dimension)
		}

		if len(node.Connections) == 0 || len(node.Connections)-1 > maxLayer {
			return fmt.Errorf("%w: vector %d has %d layers", ErrCorruptSnapshot, node.ID, len(node.Connections))
		}
		for level, conns := range node.Connections {
			for _, neighbor := range conns {
				if _, ok := snap.Nodes[neighbor]; !ok {
					return fmt.Errorf("%w: vector %d links to missing node %d at layer %d", ErrCorruptSnapshot, node.ID, neighbor, level)
				}
			}
		}
	}

	if len(snap.Nodes) == 0 {
		if snap.MaxLevel != -1 {
			return fmt.Errorf("%w: empty graph with max level %d", ErrCorruptSnapshot, snap.MaxLevel)
		}
		return nil
	}
	if snap.MaxLevel < 0 {
		return fmt.Errorf("%w: populated graph without a max level", ErrCorruptSnapshot)
	}
	if _, ok := snap.Nodes[snap.Entrypoint]; !ok {
		return fmt.Errorf("%w: entry point %d missing", ErrCorruptSnapshot, snap.Entrypoint)
	}
	return nil
}
