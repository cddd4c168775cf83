package engine

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/quiver/pkg/core"
	"github.com/sanonone/quiver/pkg/core/distance"
	"github.com/sanonone/quiver/pkg/core/hnsw"
)

func testIndexConfig() core.IndexConfig {
	return core.IndexConfig{
		Dimension: 4,
		Metric:    distance.Euclidean,
		HNSW:      hnsw.Config{Seed: 7},
	}
}

func testVector(i int) []float32 {
	return []float32{float32(i), float32(i) * 0.5, float32(i) * 0.25, 1}
}

func openTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	opts := DefaultOptions(dir)
	// Keep background tasks out of the way during tests.
	opts.AutoSaveThreshold = 0
	opts.AofRewritePercentage = 0
	e, err := Open(opts)
	require.NoError(t, err)
	return e
}

func TestEngineRecoversFromAOF(t *testing.T) {
	dir := t.TempDir()

	e := openTestEngine(t, dir)
	created, err := e.CreateIndex("items", testIndexConfig())
	require.NoError(t, err)
	assert.True(t, created)

	for i := 1; i <= 20; i++ {
		id, err := e.Add("items", testVector(i), fmt.Sprintf("doc-%d", i))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), id)
	}
	require.NoError(t, e.Delete("items", 5))
	require.NoError(t, e.Close())

	e = openTestEngine(t, dir)
	defer e.Close()

	stats, err := e.Stats("items")
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Total)
	assert.Equal(t, 19, stats.Active)
	assert.Equal(t, 1, stats.Deleted)

	rec, err := e.Get("items", 7)
	require.NoError(t, err)
	assert.Equal(t, testVector(7), rec.Vector)
	assert.Equal(t, "doc-7", rec.Metadata)

	_, err = e.Get("items", 5)
	assert.Error(t, err)

	// Ids keep counting from where the previous run stopped.
	id, err := e.Add("items", testVector(21), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(21), id)
}

func TestEngineCreateIndexIdempotent(t *testing.T) {
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	created, err := e.CreateIndex("items", testIndexConfig())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = e.CreateIndex("items", testIndexConfig())
	require.NoError(t, err)
	assert.False(t, created)

	conflicting := testIndexConfig()
	conflicting.Dimension = 8
	_, err = e.CreateIndex("items", conflicting)
	var exists *core.IndexExistsError
	assert.ErrorAs(t, err, &exists)
}

func TestEngineSnapshotTruncatesAOF(t *testing.T) {
	dir := t.TempDir()

	e := openTestEngine(t, dir)
	_, err := e.CreateIndex("items", testIndexConfig())
	require.NoError(t, err)
	for i := 1; i <= 50; i++ {
		_, err := e.Add("items", testVector(i), "")
		require.NoError(t, err)
	}

	require.NoError(t, e.SaveSnapshot())
	info, err := e.AOF.File().Stat()
	require.NoError(t, err)
	assert.Zero(t, info.Size())
	require.NoError(t, e.Close())

	// State must now come entirely from the snapshot.
	e = openTestEngine(t, dir)
	defer e.Close()

	stats, err := e.Stats("items")
	require.NoError(t, err)
	assert.Equal(t, 50, stats.Active)

	results, err := e.Search("items", testVector(25), 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(25), results[0].ID)
}

func TestEngineRewriteCompactsDeletes(t *testing.T) {
	dir := t.TempDir()

	e := openTestEngine(t, dir)
	_, err := e.CreateIndex("items", testIndexConfig())
	require.NoError(t, err)
	for i := 1; i <= 40; i++ {
		_, err := e.Add("items", testVector(i), "")
		require.NoError(t, err)
	}
	for i := 21; i <= 40; i++ {
		require.NoError(t, e.Delete("items", uint64(i)))
	}

	require.NoError(t, e.RewriteAOF())
	require.NoError(t, e.Close())

	e = openTestEngine(t, dir)
	defer e.Close()

	// Deleted vectors were dropped by the rewrite, not resurrected.
	stats, err := e.Stats("items")
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Active)
	assert.Equal(t, 0, stats.Deleted)

	// The SEQ record preserves the id counter past the dropped tail.
	id, err := e.Add("items", testVector(41), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(41), id)
}

func TestEngineDropIndexSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	e := openTestEngine(t, dir)
	_, err := e.CreateIndex("a", testIndexConfig())
	require.NoError(t, err)
	_, err = e.CreateIndex("b", testIndexConfig())
	require.NoError(t, err)
	require.NoError(t, e.DropIndex("a"))
	require.NoError(t, e.Close())

	e = openTestEngine(t, dir)
	defer e.Close()

	infos := e.ListIndexes()
	require.Len(t, infos, 1)
	assert.Equal(t, "b", infos[0].Name)
}

func TestEngineExportImport(t *testing.T) {
	e := openTestEngine(t, t.TempDir())
	defer e.Close()

	_, err := e.CreateIndex("items", testIndexConfig())
	require.NoError(t, err)
	for i := 1; i <= 10; i++ {
		_, err := e.Add("items", testVector(i), "")
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, e.ExportIndex("items", &buf))
	require.NoError(t, e.ImportIndex("copy", &buf))

	stats, err := e.Stats("copy")
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Active)

	results, err := e.Search("copy", testVector(3), 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(3), results[0].ID)
}
