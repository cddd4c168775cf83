package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sanonone/quiver/pkg/core"
	"github.com/sanonone/quiver/pkg/core/distance"
	"github.com/sanonone/quiver/pkg/core/hnsw"
)

// defaultSearchK is the result count used when a search request leaves k
// unset.
const defaultSearchK = 10

func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /indexes", s.handleListIndexes)
	mux.HandleFunc("POST /indexes/{name}", s.handleCreateIndex)
	mux.HandleFunc("DELETE /indexes/{name}", s.handleDropIndex)

	mux.HandleFunc("POST /indexes/{name}/vectors", s.handleAddVector)
	mux.HandleFunc("POST /indexes/{name}/vectors/search", s.handleSearch)
	mux.HandleFunc("GET /indexes/{name}/vectors/{id}", s.handleGetVector)
	mux.HandleFunc("DELETE /indexes/{name}/vectors/{id}", s.handleDeleteVector)

	mux.HandleFunc("POST /indexes/{name}/vacuum", s.handleVacuum)

	mux.HandleFunc("POST /system/save", s.handleSave)
	mux.HandleFunc("POST /system/aof-rewrite", s.handleAOFRewrite)
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var req createIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}

	if req.Dimension <= 0 {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid_config", "dimension must be a positive integer")
		return
	}

	cfg := core.IndexConfig{
		Dimension: req.Dimension,
		Metric:    distance.Metric(req.Metric),
		Precision: distance.PrecisionType(req.Precision),
		HNSW: hnsw.Config{
			M:              req.M,
			EfConstruction: req.EfConstruction,
			EfSearch:       req.EfSearch,
			Seed:           req.Seed,
		},
	}

	created, err := s.Engine.CreateIndex(r.PathValue("name"), cfg)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeHTTPResponse(w, status, createIndexResponse{Created: created})
}

func (s *Server) handleDropIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.DropIndex(r.PathValue("name")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	infos := s.Engine.ListIndexes()
	s.writeHTTPResponse(w, http.StatusOK, listIndexesResponse{Indexes: infos})
}

func (s *Server) handleAddVector(w http.ResponseWriter, r *http.Request) {
	var req addVectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Vector) == 0 {
		s.writeHTTPError(w, http.StatusBadRequest, "bad_request", "vector must not be empty")
		return
	}

	id, err := s.Engine.Add(r.PathValue("name"), req.Vector, req.Metadata)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusCreated, addVectorResponse{ID: id})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Vector) == 0 {
		s.writeHTTPError(w, http.StatusBadRequest, "bad_request", "vector must not be empty")
		return
	}
	if req.K <= 0 {
		req.K = defaultSearchK
	}

	results, err := s.Engine.Search(r.PathValue("name"), req.Vector, req.K, req.EfSearch)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, searchResponse{Results: results})
}

func (s *Server) handleGetVector(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseVectorID(w, r)
	if !ok {
		return
	}

	rec, err := s.Engine.Get(r.PathValue("name"), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteVector(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseVectorID(w, r)
	if !ok {
		return
	}

	if err := s.Engine.Delete(r.PathValue("name"), id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVacuum(w http.ResponseWriter, r *http.Request) {
	removed, err := s.Engine.VacuumIndex(r.PathValue("name"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, vacuumResponse{Removed: removed})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.SaveSnapshot(); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAOFRewrite(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.RewriteAOF(); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) parseVectorID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		s.writeHTTPError(w, http.StatusBadRequest, "bad_request", "vector id must be a positive integer")
		return 0, false
	}
	return id, true
}

// writeEngineError maps domain errors onto HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var (
		indexNotFound  *core.IndexNotFoundError
		indexExists    *core.IndexExistsError
		vectorNotFound *hnsw.VectorNotFoundError
		dimMismatch    *hnsw.DimensionMismatchError
	)

	switch {
	case errors.As(err, &indexNotFound):
		s.writeHTTPError(w, http.StatusNotFound, "index_not_found", err.Error())
	case errors.As(err, &vectorNotFound):
		s.writeHTTPError(w, http.StatusNotFound, "vector_not_found", err.Error())
	case errors.As(err, &indexExists):
		s.writeHTTPError(w, http.StatusConflict, "index_exists", err.Error())
	case errors.As(err, &dimMismatch):
		s.writeHTTPError(w, http.StatusBadRequest, "dimension_mismatch", err.Error())
	case errors.Is(err, distance.ErrInvalidMetric), errors.Is(err, distance.ErrInvalidPrecision):
		s.writeHTTPError(w, http.StatusBadRequest, "invalid_config", err.Error())
	default:
		s.writeHTTPError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, code, message string) {
	s.writeHTTPResponse(w, statusCode, errorResponse{Error: code, Message: message})
}
