package hnsw

import (
	"log/slog"
	"sort"

	"github.com/sanonone/quiver/pkg/core/types"
)

// DeleteThreshold is the deleted-to-total ratio above which VacuumIfNeeded
// compacts the graph.
const DeleteThreshold = 0.1

// VacuumIfNeeded runs Vacuum when the share of soft-deleted nodes crosses
// DeleteThreshold. It reports whether a vacuum ran.
func (h *Index) VacuumIfNeeded() bool {
	h.mu.RLock()
	stats := h.statsLocked()
	h.mu.RUnlock()

	if stats.Total == 0 || float64(stats.Deleted)/float64(stats.Total) < DeleteThreshold {
		return false
	}
	h.Vacuum()
	return true
}

// Vacuum physically removes soft-deleted nodes. Every live node that linked
// to a removed one gets its neighbor lists rebuilt with a fresh graph search
// so connectivity does not degrade. Freed ids are never reused.
// It returns the number of nodes removed.
func (h *Index) Vacuum() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	dead := make(map[uint32]struct{})
	for internal, node := range h.nodes {
		if node != nil && node.Deleted {
			dead[uint32(internal)] = struct{}{}
		}
	}
	if len(dead) == 0 {
		return 0
	}

	// Repair pass: recompute connections for nodes touching a dead neighbor
	// while the full graph, dead nodes included, is still traversable.
	repaired := 0
	for _, node := range h.nodes {
		if node == nil || node.Deleted {
			continue
		}
		if !touchesAny(node, dead) {
			continue
		}
		h.reconnect(node, dead)
		repaired++
	}

	// Drop the dead slots and re-elect the entry point.
	for internal := range dead {
		h.nodes[internal] = nil
	}
	h.deletedCount = 0
	h.electEntrypoint()

	slog.Info("vacuum complete", "removed", len(dead), "repaired", repaired)
	return len(dead)
}

func touchesAny(node *Node, dead map[uint32]struct{}) bool {
	for _, layer := range node.Connections {
		for _, id := range layer {
			if _, ok := dead[id]; ok {
				return true
			}
		}
	}
	return false
}

// reconnect rebuilds a node's neighbor lists at every layer it occupies,
// merging fresh search candidates with its surviving neighbors and pruning
// with the usual diversity heuristic. Caller holds the write lock.
func (h *Index) reconnect(node *Node, dead map[uint32]struct{}) {
	queryObj := h.storedVector(node)

	for l := 0; l < len(node.Connections); l++ {
		candidates, err := h.searchLayer(queryObj, h.entrypointID, h.cfg.EfConstruction, l, h.cfg.EfConstruction, false)
		if err != nil {
			candidates = nil
		}

		// Keep surviving neighbors the search may have missed.
		for _, id := range node.Connections[l] {
			if _, gone := dead[id]; gone {
				continue
			}
			already := false
			for _, c := range candidates {
				if c.ID == id {
					already = true
					break
				}
			}
			if already {
				continue
			}
			if target := h.nodes[id]; target != nil && !target.Deleted {
				if d, err := h.distanceBetweenNodes(node, target); err == nil {
					candidates = append(candidates, types.Candidate{ID: id, Distance: d})
				}
			}
		}

		internal := internalID(node.ID)
		valid := candidates[:0]
		for _, c := range candidates {
			if c.ID == internal {
				continue
			}
			if _, gone := dead[c.ID]; gone {
				continue
			}
			valid = append(valid, c)
		}

		sort.Slice(valid, func(i, j int) bool {
			return valid[i].Distance < valid[j].Distance
		})

		maxConns := h.cfg.M
		if l == 0 {
			maxConns = h.cfg.M0
		}
		selected := h.selectNeighbors(valid, maxConns)

		conns := make([]uint32, len(selected))
		for i, c := range selected {
			conns[i] = c.ID
		}
		node.Connections[l] = conns
	}
}

// electEntrypoint picks the live node at the highest layer as the new entry
// point. Caller holds the write lock.
func (h *Index) electEntrypoint() {
	h.maxLevel = -1
	for internal, node := range h.nodes {
		if node == nil || node.Deleted {
			continue
		}
		if level := len(node.Connections) - 1; level > h.maxLevel {
			h.maxLevel = level
			h.entrypointID = uint32(internal)
		}
	}
	if h.maxLevel == -1 {
		h.entrypointID = 0
	}
}
