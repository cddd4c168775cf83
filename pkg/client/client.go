// Package client provides a Go client for the quiver REST API.
//
// It covers index management (create, list, drop), vector operations
// (add, get, search, delete), and administrative tasks (vacuum, snapshot,
// AOF rewrite), handling HTTP transport, JSON codecs, and standardized
// error reporting.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// APIError represents an error returned by the quiver API (status >= 400).
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
}

// IndexConfig describes an index to create.
type IndexConfig struct {
	Dimension      int    `json:"dimension"`
	Metric         string `json:"metric"`
	Precision      string `json:"precision,omitempty"`
	M              int    `json:"m,omitempty"`
	EfConstruction int    `json:"ef_construction,omitempty"`
	EfSearch       int    `json:"ef_search,omitempty"`
	Seed           uint64 `json:"seed,omitempty"`
}

// IndexInfo models the introspection data returned by ListIndexes.
type IndexInfo struct {
	Name           string `json:"name"`
	Dimension      int    `json:"dimension"`
	Metric         string `json:"metric"`
	Precision      string `json:"precision"`
	M              int    `json:"m"`
	EfConstruction int    `json:"ef_construction"`
	EfSearch       int    `json:"ef_search"`
	Total          int    `json:"total"`
	Active         int    `json:"active"`
	Deleted        int    `json:"deleted"`
}

// SearchResult is a single search hit. Score follows the metric's native
// orientation: similarity for cosine and dot product, distance for
// euclidean.
type SearchResult struct {
	ID       uint64  `json:"id"`
	Score    float64 `json:"score"`
	Metadata string  `json:"metadata,omitempty"`
}

// VectorRecord is the stored form of a vector as returned by Get.
type VectorRecord struct {
	ID       uint64    `json:"id"`
	Vector   []float32 `json:"vector"`
	Metadata string    `json:"metadata,omitempty"`
}

// Client talks to a quiver server.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithAuthToken sends "Authorization: Bearer <token>" on every request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// WithHTTPClient swaps the underlying http.Client, e.g. for custom
// timeouts or transports.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the server at baseURL (e.g.
// "http://localhost:6440").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// jsonRequest executes one API call: it serializes the payload, performs
// the request, and surfaces API failures as *APIError.
func (c *Client) jsonRequest(method, endpoint string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Code: errResp.Error, Message: errResp.Message}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	return respBody, nil
}

// CreateIndex creates a named index. It reports whether the index was
// newly created; creating an identical index again returns false with a
// nil error, while a conflicting configuration fails with a 409 APIError.
func (c *Client) CreateIndex(name string, cfg IndexConfig) (bool, error) {
	body, err := c.jsonRequest(http.MethodPost, "/indexes/"+url.PathEscape(name), cfg)
	if err != nil {
		return false, err
	}
	var resp struct {
		Created bool `json:"created"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.Created, nil
}

// DropIndex removes an index and all its vectors.
func (c *Client) DropIndex(name string) error {
	_, err := c.jsonRequest(http.MethodDelete, "/indexes/"+url.PathEscape(name), nil)
	return err
}

// ListIndexes returns every index on the server, sorted by name.
func (c *Client) ListIndexes() ([]IndexInfo, error) {
	body, err := c.jsonRequest(http.MethodGet, "/indexes", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Indexes []IndexInfo `json:"indexes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.Indexes, nil
}

// Add inserts a vector and returns its server-assigned id.
func (c *Client) Add(indexName string, vector []float32, metadata string) (uint64, error) {
	payload := struct {
		Vector   []float32 `json:"vector"`
		Metadata string    `json:"metadata,omitempty"`
	}{Vector: vector, Metadata: metadata}

	body, err := c.jsonRequest(http.MethodPost, "/indexes/"+url.PathEscape(indexName)+"/vectors", payload)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ID uint64 `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.ID, nil
}

// Search runs a k-nearest-neighbor query. efSearch overrides the index's
// configured beam width when positive; 0 keeps the server default, as does
// k <= 0 for the result count.
func (c *Client) Search(indexName string, vector []float32, k, efSearch int) ([]SearchResult, error) {
	payload := struct {
		Vector   []float32 `json:"vector"`
		K        int       `json:"k,omitempty"`
		EfSearch int       `json:"ef_search,omitempty"`
	}{Vector: vector, K: k, EfSearch: efSearch}

	body, err := c.jsonRequest(http.MethodPost, "/indexes/"+url.PathEscape(indexName)+"/vectors/search", payload)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.Results, nil
}

// Get retrieves the stored vector and metadata for an id.
func (c *Client) Get(indexName string, id uint64) (*VectorRecord, error) {
	body, err := c.jsonRequest(http.MethodGet, c.vectorPath(indexName, id), nil)
	if err != nil {
		return nil, err
	}
	var rec VectorRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &rec, nil
}

// Delete removes a vector by id.
func (c *Client) Delete(indexName string, id uint64) error {
	_, err := c.jsonRequest(http.MethodDelete, c.vectorPath(indexName, id), nil)
	return err
}

// Vacuum physically removes soft-deleted vectors from an index and returns
// how many were dropped.
func (c *Client) Vacuum(indexName string) (int, error) {
	body, err := c.jsonRequest(http.MethodPost, "/indexes/"+url.PathEscape(indexName)+"/vacuum", nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Removed int `json:"removed"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.Removed, nil
}

// SaveSnapshot asks the server to snapshot its state and truncate the AOF.
func (c *Client) SaveSnapshot() error {
	_, err := c.jsonRequest(http.MethodPost, "/system/save", nil)
	return err
}

// AOFRewrite asks the server to compact its append-only log.
func (c *Client) AOFRewrite() error {
	_, err := c.jsonRequest(http.MethodPost, "/system/aof-rewrite", nil)
	return err
}

func (c *Client) vectorPath(indexName string, id uint64) string {
	return "/indexes/" + url.PathEscape(indexName) + "/vectors/" + strconv.FormatUint(id, 10)
}
