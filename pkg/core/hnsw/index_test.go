package hnsw

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/quiver/pkg/core/distance"
	"github.com/sanonone/quiver/pkg/core/types"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = rng.Float32()*2 - 1
		}
		out[i] = vec
	}
	return out
}

func seededConfig() Config {
	cfg := DefaultConfig()
	cfg.Seed = 42
	return cfg
}

func TestAddAssignsSequentialIDs(t *testing.T) {
	idx, err := New(4, seededConfig(), distance.Euclidean, distance.Float32)
	require.NoError(t, err)

	for want := uint64(1); want <= 5; want++ {
		id, err := idx.Add([]float32{1, 2, 3, float32(want)}, "")
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	stats := idx.Stats()
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 5, stats.Active)
	assert.Equal(t, 0, stats.Deleted)
}

func TestDimensionMismatch(t *testing.T) {
	idx, err := New(4, seededConfig(), distance.Cosine, distance.Float32)
	require.NoError(t, err)

	_, err = idx.Add([]float32{1, 2}, "")
	var dimErr *DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	// A rejected insert must not consume an id or leave state behind.
	assert.Equal(t, 0, idx.Stats().Total)
	id, err := idx.Add([]float32{1, 2, 3, 4}, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	_, err = idx.Search([]float32{1, 2, 3}, 1, 0)
	require.ErrorAs(t, err, &dimErr)
}

func TestSearchFindsInserted(t *testing.T) {
	idx, err := New(16, seededConfig(), distance.Cosine, distance.Float32)
	require.NoError(t, err)

	vectors := randomVectors(200, 16, 1)
	ids := make([]uint64, len(vectors))
	for i, vec := range vectors {
		ids[i], err = idx.Add(vec, fmt.Sprintf("meta-%d", i))
		require.NoError(t, err)
	}

	for i, vec := range vectors {
		results, err := idx.Search(vec, 1, 0)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, ids[i], results[0].ID, "vector should be its own nearest neighbor")
		assert.Equal(t, fmt.Sprintf("meta-%d", i), results[0].Metadata)
	}
}

func TestSearchReturnsAtMostK(t *testing.T) {
	idx, err := New(8, seededConfig(), distance.Euclidean, distance.Float32)
	require.NoError(t, err)

	for _, vec := range randomVectors(50, 8, 2) {
		_, err := idx.Add(vec, "")
		require.NoError(t, err)
	}

	for _, k := range []int{1, 5, 10, 100} {
		results, err := idx.Search(randomVectors(1, 8, 3)[0], k, 0)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(results), k)
	}

	results, err := idx.Search(randomVectors(1, 8, 4)[0], 0, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchEmptyIndex(t *testing.T) {
	idx, err := New(8, DefaultConfig(), distance.DotProduct, distance.Float32)
	require.NoError(t, err)

	results, err := idx.Search(make([]float32, 8), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRankOrder(t *testing.T) {
	t.Run("euclidean ascending", func(t *testing.T) {
		idx, err := New(2, seededConfig(), distance.Euclidean, distance.Float32)
		require.NoError(t, err)
		for _, v := range [][]float32{{1, 0}, {3, 0}, {2, 0}} {
			_, err := idx.Add(v, "")
			require.NoError(t, err)
		}

		results, err := idx.Search([]float32{0, 0}, 3, 0)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.InDelta(t, 1.0, results[0].Score, 1e-4)
		assert.InDelta(t, 2.0, results[1].Score, 1e-4)
		assert.InDelta(t, 3.0, results[2].Score, 1e-4)
	})

	t.Run("cosine descending", func(t *testing.T) {
		idx, err := New(2, seededConfig(), distance.Cosine, distance.Float32)
		require.NoError(t, err)
		for _, v := range [][]float32{{1, 0}, {0, 1}, {1, 1}} {
			_, err := idx.Add(v, "")
			require.NoError(t, err)
		}

		results, err := idx.Search([]float32{1, 0}, 3, 0)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, uint64(1), results[0].ID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-4)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		}
	})

	t.Run("dot product descending", func(t *testing.T) {
		idx, err := New(2, seededConfig(), distance.DotProduct, distance.Float32)
		require.NoError(t, err)
		for _, v := range [][]float32{{1, 1}, {2, 2}, {0.5, 0.5}} {
			_, err := idx.Add(v, "")
			require.NoError(t, err)
		}

		results, err := idx.Search([]float32{1, 1}, 3, 0)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, uint64(2), results[0].ID)
		assert.InDelta(t, 4.0, results[0].Score, 1e-4)
	})
}

func TestDelete(t *testing.T) {
	idx, err := New(8, seededConfig(), distance.Euclidean, distance.Float32)
	require.NoError(t, err)

	vectors := randomVectors(30, 8, 5)
	var target uint64
	for i, vec := range vectors {
		id, err := idx.Add(vec, "")
		require.NoError(t, err)
		if i == 10 {
			target = id
		}
	}

	before, err := idx.Search(vectors[10], 10, 0)
	require.NoError(t, err)
	require.True(t, containsID(before, target))

	require.NoError(t, idx.Delete(target))

	after, err := idx.Search(vectors[10], 10, 0)
	require.NoError(t, err)
	assert.False(t, containsID(after, target), "deleted vector must not appear in results")

	// The node stays in the graph for traversal.
	stats := idx.Stats()
	assert.Equal(t, 30, stats.Total)
	assert.Equal(t, 29, stats.Active)
	assert.Equal(t, 1, stats.Deleted)

	var notFound *VectorNotFoundError
	assert.ErrorAs(t, idx.Delete(target), &notFound, "double delete")
	assert.ErrorAs(t, idx.Delete(999), &notFound, "unknown id")

	_, err = idx.Get(target)
	assert.ErrorAs(t, err, &notFound, "get after delete")
}

func TestInsertAfterFullDelete(t *testing.T) {
	idx, err := New(3, seededConfig(), distance.Euclidean, distance.Float32)
	require.NoError(t, err)

	first, err := idx.Add([]float32{1, 0, 0}, "")
	require.NoError(t, err)
	require.NoError(t, idx.Delete(first))

	// The only graph node is now a tombstone; the next insert must still
	// link itself in and be reachable without a vacuum.
	second, err := idx.Add([]float32{0, 1, 0}, "")
	require.NoError(t, err)

	results, err := idx.Search([]float32{0, 1, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, second, results[0].ID)

	rec, err := idx.Get(second)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, rec.Vector)
}

func TestInsertIntoDeletedNeighborhood(t *testing.T) {
	idx, err := New(8, seededConfig(), distance.Euclidean, distance.Float32)
	require.NoError(t, err)

	vectors := randomVectors(40, 8, 9)
	ids := make([]uint64, len(vectors))
	for i, vec := range vectors {
		id, err := idx.Add(vec, "")
		require.NoError(t, err)
		ids[i] = id
	}

	// Alternate deletes with fresh inserts so new vectors keep landing in
	// neighborhoods dominated by tombstones.
	fresh := randomVectors(20, 8, 10)
	var live []uint64
	for i, vec := range fresh {
		require.NoError(t, idx.Delete(ids[i*2]))
		require.NoError(t, idx.Delete(ids[i*2+1]))
		id, err := idx.Add(vec, "")
		require.NoError(t, err)
		live = append(live, id)
	}

	// Every original vector is now deleted; only the fresh ones survive.
	for i, id := range live {
		results, err := idx.Search(fresh[i], 1, 0)
		require.NoError(t, err)
		require.Len(t, results, 1, "fresh vector %d unreachable", id)
		assert.Equal(t, id, results[0].ID)
	}

	stats := idx.Stats()
	assert.Equal(t, 20, stats.Active)
	assert.Equal(t, 40, stats.Deleted)
}

func TestGet(t *testing.T) {
	idx, err := New(3, seededConfig(), distance.Euclidean, distance.Float32)
	require.NoError(t, err)

	id, err := idx.Add([]float32{1, 2, 3}, "payload")
	require.NoError(t, err)

	rec, err := idx.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, []float32{1, 2, 3}, rec.Vector)
	assert.Equal(t, "payload", rec.Metadata)

	var notFound *VectorNotFoundError
	_, err = idx.Get(42)
	assert.ErrorAs(t, err, &notFound)
}

func TestDeterministicBuild(t *testing.T) {
	vectors := randomVectors(300, 16, 7)
	query := randomVectors(1, 16, 8)[0]

	build := func() []types.SearchResult {
		cfg := DefaultConfig()
		cfg.Seed = 99
		idx, err := New(16, cfg, distance.Euclidean, distance.Float32)
		require.NoError(t, err)
		for _, vec := range vectors {
			_, err := idx.Add(vec, "")
			require.NoError(t, err)
		}
		results, err := idx.Search(query, 10, 0)
		require.NoError(t, err)
		return results
	}

	assert.Equal(t, build(), build(), "same seed and insert order must give identical graphs")
}

func TestVacuum(t *testing.T) {
	idx, err := New(8, seededConfig(), distance.Euclidean, distance.Float32)
	require.NoError(t, err)

	vectors := randomVectors(100, 8, 11)
	for _, vec := range vectors {
		_, err := idx.Add(vec, "")
		require.NoError(t, err)
	}
	for id := uint64(1); id <= 30; id++ {
		require.NoError(t, idx.Delete(id))
	}

	removed := idx.Vacuum()
	assert.Equal(t, 30, removed)

	stats := idx.Stats()
	assert.Equal(t, 70, stats.Total)
	assert.Equal(t, 70, stats.Active)
	assert.Equal(t, 0, stats.Deleted)

	// Freed ids are not reused.
	id, err := idx.Add(vectors[0], "")
	require.NoError(t, err)
	assert.Equal(t, uint64(101), id)

	// The surviving graph still answers searches.
	results, err := idx.Search(vectors[50], 5, 0)
	require.NoError(t, err)
	assert.True(t, containsID(results, 51))
}

func TestRecallAgainstBruteForce(t *testing.T) {
	const (
		numVectors = 1000
		dim        = 64
		k          = 10
		numQueries = 50
	)

	idx, err := New(dim, seededConfig(), distance.Euclidean, distance.Float32)
	require.NoError(t, err)

	vectors := randomVectors(numVectors, dim, 13)
	for _, vec := range vectors {
		_, err := idx.Add(vec, "")
		require.NoError(t, err)
	}

	queries := randomVectors(numQueries, dim, 17)
	var totalOverlap float64
	for _, q := range queries {
		exact := bruteForceTopK(vectors, q, k)

		results, err := idx.Search(q, k, 0)
		require.NoError(t, err)

		overlap := 0
		for _, r := range results {
			if _, ok := exact[r.ID]; ok {
				overlap++
			}
		}
		totalOverlap += float64(overlap) / float64(k)
	}

	recall := totalOverlap / float64(numQueries)
	assert.GreaterOrEqual(t, recall, 0.9, "recall@%d too low: %f", k, recall)
}

func bruteForceTopK(vectors [][]float32, query []float32, k int) map[uint64]struct{} {
	type pair struct {
		id   uint64
		dist float64
	}
	pairs := make([]pair, len(vectors))
	for i, vec := range vectors {
		var sum float64
		for j := range vec {
			d := float64(vec[j] - query[j])
			sum += d * d
		}
		pairs[i] = pair{id: uint64(i) + 1, dist: sum}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].dist < pairs[j].dist })

	top := make(map[uint64]struct{}, k)
	for i := 0; i < k && i < len(pairs); i++ {
		top[pairs[i].id] = struct{}{}
	}
	return top
}

func containsID(results []types.SearchResult, id uint64) bool {
	for _, r := range results {
		if r.ID == id {
			return true
		}
	}
	return false
}

func TestReducedPrecision(t *testing.T) {
	t.Run("float16", func(t *testing.T) {
		idx, err := New(8, seededConfig(), distance.Euclidean, distance.Float16)
		require.NoError(t, err)

		vectors := randomVectors(50, 8, 19)
		for _, vec := range vectors {
			_, err := idx.Add(vec, "")
			require.NoError(t, err)
		}

		results, err := idx.Search(vectors[7], 1, 0)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, uint64(8), results[0].ID)
	})

	t.Run("int8 cosine", func(t *testing.T) {
		idx, err := New(8, seededConfig(), distance.Cosine, distance.Int8)
		require.NoError(t, err)

		vectors := randomVectors(50, 8, 23)
		idx.TrainQuantizer(vectors)
		for _, vec := range vectors {
			_, err := idx.Add(vec, "")
			require.NoError(t, err)
		}

		results, err := idx.Search(vectors[3], 5, 0)
		require.NoError(t, err)
		assert.True(t, containsID(results, 4))
	})
}

func BenchmarkAdd(b *testing.B) {
	const dim = 128
	vectors := randomVectors(b.N+1, dim, 29)
	idx, _ := New(dim, DefaultConfig(), distance.Cosine, distance.Float32)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.Add(vectors[i], "")
	}
}

func BenchmarkSearch(b *testing.B) {
	const dim = 128
	vectors := randomVectors(10000, dim, 31)
	idx, _ := New(dim, DefaultConfig(), distance.Cosine, distance.Float32)
	for _, vec := range vectors {
		idx.Add(vec, "")
	}
	query := randomVectors(1, dim, 37)[0]

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.Search(query, 10, 0)
	}
}
