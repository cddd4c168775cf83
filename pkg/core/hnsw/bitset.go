package hnsw

// bitSet tracks visited node ids during a layer search. It grows on demand
// and is recycled through a sync.Pool, so Clear must leave capacity intact.
type bitSet struct {
	words []uint64
}

func newBitSet(capacity uint32) *bitSet {
	return &bitSet{words: make([]uint64, (capacity>>6)+1)}
}

func (bs *bitSet) grow(n uint32) {
	needed := (n >> 6) + 1
	if uint32(len(bs.words)) < needed {
		words := make([]uint64, needed)
		copy(words, bs.words)
		bs.words = words
	}
}

func (bs *bitSet) Add(n uint32) {
	idx := n >> 6
	if idx >= uint32(len(bs.words)) {
		bs.grow(n)
	}
	bs.words[idx] |= 1 << (n & 63)
}

func (bs *bitSet) Has(n uint32) bool {
	idx := n >> 6
	if idx >= uint32(len(bs.words)) {
		return false
	}
	return bs.words[idx]&(1<<(n&63)) != 0
}

func (bs *bitSet) Clear() {
	for i := range bs.words {
		bs.words[i] = 0
	}
}

// EnsureCapacity pre-grows the set so the hot loop never reallocates.
func (bs *bitSet) EnsureCapacity(maxVal uint32) {
	bs.grow(maxVal)
}
