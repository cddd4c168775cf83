package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/quiver/pkg/engine"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	opts := engine.DefaultOptions(t.TempDir())
	opts.AutoSaveThreshold = 0
	opts.AofRewritePercentage = 0
	eng, err := engine.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	return NewServer(eng, ":0", "")
}

// doJSON fires a request at the full middleware chain and decodes the JSON
// response into out (when out is non-nil).
func doJSON(t *testing.T, s *Server, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, path, reqBody)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func createTestIndex(t *testing.T, s *Server, name string) {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/indexes/"+name, createIndexRequest{
		Dimension: 3,
		Metric:    "euclidean",
		Seed:      42,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateIndexEndpoint(t *testing.T) {
	s := newTestServer(t)

	var resp createIndexResponse
	rec := doJSON(t, s, http.MethodPost, "/indexes/products", createIndexRequest{
		Dimension: 3,
		Metric:    "cosine",
	}, &resp)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Created)

	// Identical create is idempotent.
	rec = doJSON(t, s, http.MethodPost, "/indexes/products", createIndexRequest{
		Dimension: 3,
		Metric:    "cosine",
	}, &resp)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Created)

	// Same name, different shape: conflict.
	rec = doJSON(t, s, http.MethodPost, "/indexes/products", createIndexRequest{
		Dimension: 8,
		Metric:    "cosine",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "index_exists", errResp.Error)
}

func TestCreateIndexValidation(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/indexes/bad", createIndexRequest{
		Dimension: 0,
		Metric:    "euclidean",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/indexes/bad", createIndexRequest{
		Dimension: 3,
		Metric:    "manhattan",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_config", errResp.Error)
}

func TestVectorLifecycle(t *testing.T) {
	s := newTestServer(t)
	createTestIndex(t, s, "items")

	// Add
	var addResp addVectorResponse
	rec := doJSON(t, s, http.MethodPost, "/indexes/items/vectors", addVectorRequest{
		Vector:   []float32{1, 2, 3},
		Metadata: "first",
	}, &addResp)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, uint64(1), addResp.ID)

	for i := 2; i <= 10; i++ {
		rec = doJSON(t, s, http.MethodPost, "/indexes/items/vectors", addVectorRequest{
			Vector: []float32{float32(i), float32(i) * 2, float32(i) * 3},
		}, &addResp)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, uint64(i), addResp.ID)
	}

	// Get
	var rec1 struct {
		ID       uint64    `json:"id"`
		Vector   []float32 `json:"vector"`
		Metadata string    `json:"metadata"`
	}
	res := doJSON(t, s, http.MethodGet, "/indexes/items/vectors/1", nil, &rec1)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, []float32{1, 2, 3}, rec1.Vector)
	assert.Equal(t, "first", rec1.Metadata)

	// Search
	var searchResp searchResponse
	res = doJSON(t, s, http.MethodPost, "/indexes/items/vectors/search", searchRequest{
		Vector: []float32{1, 2, 3},
		K:      3,
	}, &searchResp)
	require.Equal(t, http.StatusOK, res.Code)
	require.NotEmpty(t, searchResp.Results)
	assert.Equal(t, uint64(1), searchResp.Results[0].ID)
	assert.Equal(t, "first", searchResp.Results[0].Metadata)

	// Delete
	res = doJSON(t, s, http.MethodDelete, "/indexes/items/vectors/1", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)

	res = doJSON(t, s, http.MethodGet, "/indexes/items/vectors/1", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = doJSON(t, s, http.MethodDelete, "/indexes/items/vectors/1", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestSearchDefaultsK(t *testing.T) {
	s := newTestServer(t)
	createTestIndex(t, s, "items")

	for i := 0; i < 25; i++ {
		rec := doJSON(t, s, http.MethodPost, "/indexes/items/vectors", addVectorRequest{
			Vector: []float32{float32(i), 0, 0},
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	var searchResp searchResponse
	rec := doJSON(t, s, http.MethodPost, "/indexes/items/vectors/search", searchRequest{
		Vector: []float32{0, 0, 0},
	}, &searchResp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, searchResp.Results, defaultSearchK)
}

func TestDimensionMismatchRejected(t *testing.T) {
	s := newTestServer(t)
	createTestIndex(t, s, "items")

	rec := doJSON(t, s, http.MethodPost, "/indexes/items/vectors", addVectorRequest{
		Vector: []float32{1, 2, 3, 4, 5},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "dimension_mismatch", errResp.Error)
}

func TestUnknownIndexReturns404(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/indexes/ghost/vectors", addVectorRequest{
		Vector: []float32{1, 2, 3},
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/indexes/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadVectorIDRejected(t *testing.T) {
	s := newTestServer(t)
	createTestIndex(t, s, "items")

	for _, id := range []string{"abc", "-3", "0"} {
		rec := doJSON(t, s, http.MethodGet, "/indexes/items/vectors/"+id, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "id %q", id)
	}
}

func TestListIndexesSorted(t *testing.T) {
	s := newTestServer(t)
	for _, name := range []string{"zebra", "alpha", "mid"} {
		createTestIndex(t, s, name)
	}

	var resp listIndexesResponse
	rec := doJSON(t, s, http.MethodGet, "/indexes", nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Indexes, 3)
	assert.Equal(t, "alpha", resp.Indexes[0].Name)
	assert.Equal(t, "mid", resp.Indexes[1].Name)
	assert.Equal(t, "zebra", resp.Indexes[2].Name)
}

func TestVacuumEndpoint(t *testing.T) {
	s := newTestServer(t)
	createTestIndex(t, s, "items")

	for i := 1; i <= 20; i++ {
		rec := doJSON(t, s, http.MethodPost, "/indexes/items/vectors", addVectorRequest{
			Vector: []float32{float32(i), 0, 0},
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	for i := 1; i <= 5; i++ {
		rec := doJSON(t, s, http.MethodDelete, fmt.Sprintf("/indexes/items/vectors/%d", i), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	var resp vacuumResponse
	rec := doJSON(t, s, http.MethodPost, "/indexes/items/vacuum", nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, resp.Removed)
}

func TestAuthMiddleware(t *testing.T) {
	opts := engine.DefaultOptions(t.TempDir())
	opts.AutoSaveThreshold = 0
	eng, err := engine.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	s := NewServer(eng, ":0", "sekrit")

	req := httptest.NewRequest(http.MethodGet, "/indexes", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/indexes", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays reachable without a token.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
