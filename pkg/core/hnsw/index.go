// Package hnsw implements the Hierarchical Navigable Small World graph for
// approximate nearest neighbor search.
//
// The Index supports the euclidean, cosine and dot product metrics over
// float32, float16 and quantized int8 storage. Deletes are soft: deleted
// nodes stay in the graph so traversal paths survive, but they are filtered
// out of every result. Ids are assigned from a monotonically increasing
// counter and are never reused.
package hnsw

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/x448/float16"

	"github.com/sanonone/quiver/pkg/core/distance"
	"github.com/sanonone/quiver/pkg/core/types"
)

// Index is an HNSW graph over vectors of a fixed dimension.
// A single RWMutex guards the whole structure: inserts and deletes take the
// write lock for the full operation, searches share the read lock.
type Index struct {
	mu sync.RWMutex

	cfg       Config
	dim       int
	metric    distance.Metric
	precision distance.PrecisionType

	// ml is the normalization factor of the level distribution, 1/ln(M).
	ml  float64
	rng *rand.Rand

	entrypointID uint32
	maxLevel     int // -1 while the graph is empty

	nodes        []*Node
	nextID       uint64 // next external id to assign, starts at 1
	deletedCount int

	quantizer *distance.Quantizer

	distFuncF32 distance.DistanceFuncF32
	distFuncF16 distance.DistanceFuncF16
	distFuncI8  distance.DistanceFuncI8

	visitedPool sync.Pool
	minHeapPool sync.Pool
	maxHeapPool sync.Pool
}

// New creates an empty index for vectors of the given dimension.
func New(dim int, cfg Config, metric distance.Metric, precision distance.PrecisionType) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if _, err := distance.ParseMetric(string(metric)); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	h := &Index{
		cfg:       cfg,
		dim:       dim,
		metric:    metric,
		precision: precision,
		ml:        cfg.levelMultiplier(),
		rng:       rand.New(rand.NewPCG(seed, seed)),
		maxLevel:  -1,
		nodes:     make([]*Node, 0, 1024),
		nextID:    1,
	}

	var err error
	switch precision {
	case distance.Float32:
		h.distFuncF32, err = distance.GetFloat32Func(metric)
	case distance.Float16:
		h.distFuncF16, err = distance.GetFloat16Func(metric)
	case distance.Int8:
		h.distFuncI8, err = distance.GetInt8Func(metric)
		h.quantizer = &distance.Quantizer{}
	default:
		err = fmt.Errorf("unsupported precision: %s", precision)
	}
	if err != nil {
		return nil, err
	}

	h.visitedPool = sync.Pool{
		New: func() any { return newBitSet(256) },
	}
	h.minHeapPool = sync.Pool{
		New: func() any { return newMinHeap(cfg.EfConstruction) },
	}
	h.maxHeapPool = sync.Pool{
		New: func() any { return newMaxHeap(cfg.EfConstruction) },
	}

	return h, nil
}

// Dimension returns the fixed vector dimension of the index.
func (h *Index) Dimension() int { return h.dim }

// Metric returns the distance metric of the index.
func (h *Index) Metric() distance.Metric { return h.metric }

// Precision returns the storage precision of the index.
func (h *Index) Precision() distance.PrecisionType { return h.precision }

// Params returns the graph configuration.
func (h *Index) Params() Config { return h.cfg }

// TrainQuantizer trains the int8 quantizer on a sample of vectors. It has no
// effect on non-quantized indexes. Call it before the first insert for best
// quality; an untrained quantizer is otherwise trained on the first vector.
func (h *Index) TrainQuantizer(vectors [][]float32) {
	if h.quantizer == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.quantizer.Train(vectors)
}

// Stats counts the records of the index, including soft-deleted ones.
func (h *Index) Stats() types.IndexStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statsLocked()
}

func (h *Index) statsLocked() types.IndexStats {
	total := 0
	for _, n := range h.nodes {
		if n != nil {
			total++
		}
	}
	return types.IndexStats{
		Total:   total,
		Active:  total - h.deletedCount,
		Deleted: h.deletedCount,
	}
}

// Add stores a vector with optional metadata and returns its assigned id.
func (h *Index) Add(vector []float32, metadata string) (uint64, error) {
	if len(vector) != h.dim {
		return 0, &DimensionMismatchError{Expected: h.dim, Got: len(vector)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	if err := h.insertLocked(id, vector, metadata); err != nil {
		if internal := internalID(id); internal < uint32(len(h.nodes)) {
			h.nodes[internal] = nil
		}
		h.nextID--
		return 0, err
	}
	return id, nil
}

// NextID returns the id the next Add call would assign.
func (h *Index) NextID() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.nextID
}

// AdvanceNextID raises the id counter to at least n. Replay uses this so that
// ids freed by log compaction are never handed out again.
func (h *Index) AdvanceNextID(n uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > h.nextID {
		h.nextID = n
	}
}

// Insert stores a vector under an explicit id. It is used when replaying a
// persistence log, where ids were assigned on the original write path. The
// id counter advances past the given id so later Adds never collide.
func (h *Index) Insert(id uint64, vector []float32, metadata string) error {
	if len(vector) != h.dim {
		return &DimensionMismatchError{Expected: h.dim, Got: len(vector)}
	}
	if id == 0 {
		return fmt.Errorf("id 0 is reserved")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	internal := internalID(id)
	if internal < uint32(len(h.nodes)) && h.nodes[internal] != nil {
		return fmt.Errorf("id %d already occupied", id)
	}
	if err := h.insertLocked(id, vector, metadata); err != nil {
		return err
	}
	if id >= h.nextID {
		h.nextID = id + 1
	}
	return nil
}

// insertLocked performs the actual graph insertion. Caller holds the write
// lock and has validated the dimension.
func (h *Index) insertLocked(id uint64, vector []float32, metadata string) error {
	internal := internalID(id)

	node := &Node{ID: id, Metadata: metadata}
	switch h.precision {
	case distance.Float32:
		node.VectorF32 = vector
	case distance.Float16:
		v := make([]uint16, len(vector))
		for i, x := range vector {
			v[i] = float16.Fromfloat32(x).Bits()
		}
		node.VectorF16 = v
	case distance.Int8:
		if h.quantizer.AbsMax == 0 {
			h.quantizer.Train([][]float32{vector})
		}
		node.VectorI8 = h.quantizer.Quantize(h.prepareForQuantization(vector))
	}

	h.growNodes(internal)
	h.nodes[internal] = node

	level := h.levelFor()
	node.Connections = make([][]uint32, level+1)

	if h.maxLevel == -1 {
		h.entrypointID = internal
		h.maxLevel = level
		return nil
	}

	queryObj := h.storedVector(node)

	// Greedy descent through the layers above the node's level. Tombstones
	// stay eligible as waypoints and link targets throughout construction;
	// dropping them here would leave a new vector with no neighbors when
	// its whole neighborhood is soft-deleted.
	entry := h.entrypointID
	for l := h.maxLevel; l > level; l-- {
		nearest, err := h.searchLayer(queryObj, entry, 1, l, 1, true)
		if err != nil {
			return err
		}
		if len(nearest) > 0 {
			entry = nearest[0].ID
		}
	}

	// Beam search and bidirectional linking on each layer the node joins.
	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates, err := h.searchLayer(queryObj, entry, h.cfg.EfConstruction, l, h.cfg.EfConstruction, true)
		if err != nil {
			return err
		}

		maxConns := h.cfg.M
		if l == 0 {
			maxConns = h.cfg.M0
		}

		selected := h.selectNeighbors(candidates, maxConns)
		node.Connections[l] = make([]uint32, len(selected))
		for i, c := range selected {
			node.Connections[l][i] = c.ID
		}

		for _, c := range selected {
			h.linkBack(c.ID, internal, l, maxConns)
		}

		if len(candidates) > 0 {
			entry = candidates[0].ID
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entrypointID = internal
	}
	return nil
}

// linkBack adds newID to neighbor's connection list at the given layer,
// re-running neighbor selection when the list would overflow its cap.
func (h *Index) linkBack(neighborID, newID uint32, level, maxConns int) {
	neighbor := h.nodes[neighborID]
	if neighbor == nil || level >= len(neighbor.Connections) {
		return
	}

	conns := neighbor.Connections[level]
	if len(conns) < maxConns {
		neighbor.Connections[level] = append(conns, newID)
		return
	}

	// Overflow: rebuild the list from existing neighbors plus the newcomer.
	merged := make([]types.Candidate, 0, len(conns)+1)
	for _, id := range conns {
		if other := h.nodes[id]; other != nil {
			d, err := h.distanceBetweenNodes(neighbor, other)
			if err != nil {
				continue
			}
			merged = append(merged, types.Candidate{ID: id, Distance: d})
		}
	}
	if newcomer := h.nodes[newID]; newcomer != nil {
		d, err := h.distanceBetweenNodes(neighbor, newcomer)
		if err == nil {
			merged = append(merged, types.Candidate{ID: newID, Distance: d})
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Distance < merged[j].Distance
	})

	selected := h.selectNeighbors(merged, maxConns)
	pruned := make([]uint32, len(selected))
	for i, c := range selected {
		pruned[i] = c.ID
	}
	neighbor.Connections[level] = pruned
}

// Delete soft-deletes a vector. The node remains in the graph for traversal
// but is excluded from all results from this point on.
func (h *Index) Delete(id uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	node := h.nodeByID(id)
	if node == nil || node.Deleted {
		return &VectorNotFoundError{ID: id}
	}
	node.Deleted = true
	h.deletedCount++
	return nil
}

// Get returns the stored record for a live vector. For float16 and int8
// indexes the returned vector is the decompressed approximation.
func (h *Index) Get(id uint64) (types.VectorRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	node := h.nodeByID(id)
	if node == nil || node.Deleted {
		return types.VectorRecord{}, &VectorNotFoundError{ID: id}
	}
	return types.VectorRecord{
		ID:       id,
		Vector:   h.decompress(node),
		Metadata: node.Metadata,
	}, nil
}

// Search returns the k nearest live vectors to the query, in rank order for
// the index metric. efSearch overrides the configured beam width when
// positive; the effective width is never below k.
func (h *Index) Search(query []float32, k int, efSearch int) ([]types.SearchResult, error) {
	if len(query) != h.dim {
		return nil, &DimensionMismatchError{Expected: h.dim, Got: len(query)}
	}
	if k <= 0 {
		return []types.SearchResult{}, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.maxLevel == -1 {
		return []types.SearchResult{}, nil
	}

	queryObj := h.prepareQuery(query)

	ef := efSearch
	if ef <= 0 {
		ef = h.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}

	// The descent may route through deleted waypoints; only the layer-0
	// result set filters them.
	entry := h.entrypointID
	for l := h.maxLevel; l > 0; l-- {
		nearest, err := h.searchLayer(queryObj, entry, 1, l, 1, true)
		if err != nil {
			return nil, err
		}
		if len(nearest) > 0 {
			entry = nearest[0].ID
		}
	}

	candidates, err := h.searchLayer(queryObj, entry, k, 0, ef, false)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, len(candidates))
	for i, c := range candidates {
		node := h.nodes[c.ID]
		results[i] = types.SearchResult{
			ID:       externalID(c.ID),
			Score:    distance.Score(h.metric, c.Distance),
			Metadata: node.Metadata,
		}
	}
	return results, nil
}

// Iterate calls fn for every live record in id order.
func (h *Index) Iterate(fn func(rec types.VectorRecord)) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for internal, node := range h.nodes {
		if node == nil || node.Deleted {
			continue
		}
		fn(types.VectorRecord{
			ID:       externalID(uint32(internal)),
			Vector:   h.decompress(node),
			Metadata: node.Metadata,
		})
	}
}

// searchLayer runs a beam search on one layer starting from entry. Results
// come back sorted by ascending distance and truncated to k. The search
// always traverses through soft-deleted nodes; includeDeleted controls
// whether they may also appear in the results. Queries filter them out,
// but construction keeps them so a vector inserted into a neighborhood of
// tombstones still gets linked into the graph instead of ending up
// orphaned. Caller holds at least the read lock.
func (h *Index) searchLayer(query any, entry uint32, k, level, ef int, includeDeleted bool) ([]types.Candidate, error) {
	visited := h.visitedPool.Get().(*bitSet)
	candidates := h.minHeapPool.Get().(*minHeap)
	results := h.maxHeapPool.Get().(*maxHeap)

	*candidates = (*candidates)[:0]
	*results = (*results)[:0]

	defer func() {
		visited.Clear()
		h.visitedPool.Put(visited)
		h.minHeapPool.Put(candidates)
		h.maxHeapPool.Put(results)
	}()

	visited.EnsureCapacity(uint32(len(h.nodes)))

	if ef < k {
		ef = k
	}

	// Specialize the distance call once so the hot loop avoids the precision
	// switch and interface dispatch entirely.
	distFn, err := h.queryDistanceFunc(query)
	if err != nil {
		return nil, err
	}

	entryNode := h.nodes[entry]
	if entryNode == nil {
		return nil, fmt.Errorf("entry point %d missing", entry)
	}
	dist, err := distFn(entryNode)
	if err != nil {
		return nil, err
	}

	ep := types.Candidate{ID: entry, Distance: dist}
	candidates.Push(ep)
	visited.Add(entry)
	if includeDeleted || !entryNode.Deleted {
		results.Push(ep)
	}

	for candidates.Len() > 0 {
		current := candidates.Pop()

		// Once the nearest frontier node is farther than the worst kept
		// result, no better result is reachable down this path.
		if results.Len() >= ef && current.Distance > results.Peek().Distance {
			break
		}

		currentNode := h.nodes[current.ID]
		if currentNode == nil || level >= len(currentNode.Connections) {
			continue
		}

		for _, neighborID := range currentNode.Connections[level] {
			if visited.Has(neighborID) {
				continue
			}
			visited.Add(neighborID)

			if neighborID >= uint32(len(h.nodes)) {
				continue
			}
			neighborNode := h.nodes[neighborID]
			if neighborNode == nil {
				continue
			}

			d, err := distFn(neighborNode)
			if err != nil {
				continue
			}

			worst := math.MaxFloat64
			if results.Len() > 0 {
				worst = results.Peek().Distance
			}

			if results.Len() < ef || d < worst {
				c := types.Candidate{ID: neighborID, Distance: d}
				candidates.Push(c)

				if includeDeleted || !neighborNode.Deleted {
					results.Push(c)
					if results.Len() > ef {
						results.Pop()
					}
				}
			}
		}
	}

	// The max-heap pops farthest first; fill the slice backwards to get
	// ascending order.
	count := results.Len()
	out := make([]types.Candidate, count)
	for i := count - 1; i >= 0; i-- {
		out[i] = results.Pop()
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// selectNeighbors applies the diversity heuristic from the HNSW paper to a
// candidate list sorted by ascending distance: a candidate is skipped when
// it sits closer to an already selected neighbor than to the query. If the
// heuristic leaves fewer than m neighbors, the best skipped candidates fill
// the remaining slots so nodes never end up weakly connected.
func (h *Index) selectNeighbors(candidates []types.Candidate, m int) []types.Candidate {
	if len(candidates) <= m {
		return candidates
	}

	selected := make([]types.Candidate, 0, m)
	discarded := make([]types.Candidate, 0, m)

	for _, e := range candidates {
		if len(selected) >= m {
			break
		}
		if len(selected) == 0 {
			selected = append(selected, e)
			continue
		}

		diverse := true
		for _, r := range selected {
			d, err := h.distanceBetweenNodes(h.nodes[e.ID], h.nodes[r.ID])
			if err != nil || d < e.Distance {
				diverse = false
				break
			}
		}

		if diverse {
			selected = append(selected, e)
		} else {
			discarded = append(discarded, e)
		}
	}

	for _, c := range discarded {
		if len(selected) >= m {
			break
		}
		selected = append(selected, c)
	}
	return selected
}

// levelFor draws the layer for a new node from the exponential distribution
// floor(-ln(U) * mL), capped at maxLayer.
func (h *Index) levelFor() int {
	u := h.rng.Float64()
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	level := int(math.Floor(-math.Log(u) * h.ml))
	if level > maxLayer {
		level = maxLayer
	}
	return level
}

// --- distance plumbing ---

// queryDistanceFunc builds a closure computing the internal distance from a
// prepared query to a node.
func (h *Index) queryDistanceFunc(query any) (func(*Node) (float64, error), error) {
	switch h.precision {
	case distance.Float32:
		q := query.([]float32)
		fn := h.distFuncF32
		return func(n *Node) (float64, error) { return fn(q, n.VectorF32) }, nil
	case distance.Float16:
		q := query.([]uint16)
		fn := h.distFuncF16
		return func(n *Node) (float64, error) { return fn(q, n.VectorF16) }, nil
	case distance.Int8:
		q := query.([]int8)
		fn := h.distFuncI8
		scale := float64(h.quantizer.Scale())
		s2 := scale * scale
		metric := h.metric
		return func(n *Node) (float64, error) {
			raw, err := fn(q, n.VectorI8)
			if err != nil {
				return 0, err
			}
			if metric == distance.Euclidean {
				return float64(raw) * s2, nil
			}
			return 1.0 - float64(raw)*s2, nil
		}, nil
	}
	return nil, fmt.Errorf("precision not configured")
}

func (h *Index) distanceBetweenNodes(a, b *Node) (float64, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("nil node")
	}
	switch h.precision {
	case distance.Float32:
		return h.distFuncF32(a.VectorF32, b.VectorF32)
	case distance.Float16:
		return h.distFuncF16(a.VectorF16, b.VectorF16)
	case distance.Int8:
		raw, err := h.distFuncI8(a.VectorI8, b.VectorI8)
		if err != nil {
			return 0, err
		}
		scale := float64(h.quantizer.Scale())
		s2 := scale * scale
		if h.metric == distance.Euclidean {
			return float64(raw) * s2, nil
		}
		return 1.0 - float64(raw)*s2, nil
	}
	return 0, fmt.Errorf("precision not configured")
}

// prepareQuery converts a float32 query into the index's storage space.
func (h *Index) prepareQuery(query []float32) any {
	switch h.precision {
	case distance.Float16:
		q := make([]uint16, len(query))
		for i, x := range query {
			q[i] = float16.Fromfloat32(x).Bits()
		}
		return q
	case distance.Int8:
		return h.quantizer.Quantize(h.prepareForQuantization(query))
	default:
		return query
	}
}

// prepareForQuantization normalizes a copy of the vector for cosine indexes,
// so the int8 dot product approximates the cosine similarity. Other metrics
// quantize the raw vector.
func (h *Index) prepareForQuantization(vector []float32) []float32 {
	if h.metric != distance.Cosine {
		return vector
	}
	cp := make([]float32, len(vector))
	copy(cp, vector)
	distance.Normalize(cp)
	return cp
}

// storedVector returns the node's vector in storage space for use as an
// insertion query.
func (h *Index) storedVector(n *Node) any {
	switch h.precision {
	case distance.Float16:
		return n.VectorF16
	case distance.Int8:
		return n.VectorI8
	default:
		return n.VectorF32
	}
}

// decompress converts a stored vector back to float32.
func (h *Index) decompress(n *Node) []float32 {
	switch h.precision {
	case distance.Float16:
		out := make([]float32, len(n.VectorF16))
		for i, v := range n.VectorF16 {
			out[i] = float16.Frombits(v).Float32()
		}
		return out
	case distance.Int8:
		return h.quantizer.Dequantize(n.VectorI8)
	default:
		return n.VectorF32
	}
}

// nodeByID resolves an external id to its node, or nil.
func (h *Index) nodeByID(id uint64) *Node {
	if id == 0 {
		return nil
	}
	internal := internalID(id)
	if internal >= uint32(len(h.nodes)) {
		return nil
	}
	return h.nodes[internal]
}

// growNodes extends the node slice so slot id is addressable.
// Caller holds the write lock.
func (h *Index) growNodes(id uint32) {
	if uint32(len(h.nodes)) > id {
		return
	}
	if uint32(cap(h.nodes)) > id {
		h.nodes = h.nodes[:id+1]
		return
	}
	newCap := uint32(cap(h.nodes))
	if newCap == 0 {
		newCap = 1024
	}
	for newCap <= id {
		newCap *= 2
	}
	grown := make([]*Node, id+1, newCap)
	copy(grown, h.nodes)
	h.nodes = grown
}
