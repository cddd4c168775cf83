package hnsw

import "github.com/sanonone/quiver/pkg/core/types"

// Candidate heaps used by the layer search. They store values rather than
// pointers and implement sift operations directly, which keeps the hot loop
// free of interface conversions and per-push allocations. Both are recycled
// through sync.Pools on the Index.

// minHeap keeps the nearest unexplored candidate on top. It drives the
// expansion order of the search frontier.
type minHeap []types.Candidate

func newMinHeap(capacity int) *minHeap {
	h := make(minHeap, 0, capacity)
	return &h
}

func (h minHeap) Len() int { return len(h) }

func (h minHeap) Peek() types.Candidate { return h[0] }

func (h *minHeap) Push(c types.Candidate) {
	*h = append(*h, c)
	s := *h
	i := len(s) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if s[parent].Distance <= s[i].Distance {
			break
		}
		s[parent], s[i] = s[i], s[parent]
		i = parent
	}
}

func (h *minHeap) Pop() types.Candidate {
	s := *h
	top := s[0]
	n := len(s) - 1
	s[0] = s[n]
	s = s[:n]
	*h = s

	i := 0
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		smallest := left
		if right := left + 1; right < n && s[right].Distance < s[left].Distance {
			smallest = right
		}
		if s[i].Distance <= s[smallest].Distance {
			break
		}
		s[i], s[smallest] = s[smallest], s[i]
		i = smallest
	}
	return top
}

// maxHeap keeps the farthest retained result on top, so the worst of the
// current best set can be evicted in O(log n) when a closer node is found.
type maxHeap []types.Candidate

func newMaxHeap(capacity int) *maxHeap {
	h := make(maxHeap, 0, capacity)
	return &h
}

func (h maxHeap) Len() int { return len(h) }

func (h maxHeap) Peek() types.Candidate { return h[0] }

func (h *maxHeap) Push(c types.Candidate) {
	*h = append(*h, c)
	s := *h
	i := len(s) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if s[parent].Distance >= s[i].Distance {
			break
		}
		s[parent], s[i] = s[i], s[parent]
		i = parent
	}
}

func (h *maxHeap) Pop() types.Candidate {
	s := *h
	top := s[0]
	n := len(s) - 1
	s[0] = s[n]
	s = s[:n]
	*h = s

	i := 0
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		largest := left
		if right := left + 1; right < n && s[right].Distance > s[left].Distance {
			largest = right
		}
		if s[i].Distance >= s[largest].Distance {
			break
		}
		s[i], s[largest] = s[largest], s[i]
		i = largest
	}
	return top
}
