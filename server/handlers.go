package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/c360/embedatlas/config"
	"github.com/c360/embedatlas/errors"
	"github.com/c360/embedatlas/pkg/worker"
	"github.com/c360/embedatlas/projection"
	"github.com/c360/embedatlas/query"
	"github.com/c360/embedatlas/reduction"
)

// dispatchDo funnels blocking work through the worker pool when one is
// configured, falling back to inline execution otherwise.
func dispatchDo[T any](ctx context.Context, d *worker.Dispatcher, fn func(context.Context) (T, error)) (T, error) {
	if d == nil {
		return fn(ctx)
	}
	return worker.Do(ctx, d, fn)
}

func (s *Server) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	overlay := map[string]any{
		"database": s.databaseMetadata(),
	}
	if s.deps.Bridge != nil {
		overlay["mcp"] = map[string]any{"type": "websocket"}
	}
	writeJSON(w, http.StatusOK, s.deps.Source.Metadata(overlay))
}

func (s *Server) databaseMetadata() map[string]any {
	db := s.cfg.Database
	switch db.Type {
	case config.DatabaseWASM:
		return map[string]any{"type": "wasm", "load": true}
	case config.DatabaseSocket:
		return map[string]any{"type": "socket", "uri": db.URI, "load": db.Load}
	default:
		if db.URI != "" {
			return map[string]any{"type": "rest", "uri": db.URI, "load": db.Load}
		}
		// The server itself answers /data/query.
		return map[string]any{"type": "rest"}
	}
}

func (s *Server) handleCacheGet(w http.ResponseWriter, r *http.Request) {
	data, ok, err := s.deps.Source.CacheGet(r.PathValue("name"))
	if err != nil {
		writeError(w, statusForError(err), "invalid cache name")
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeBytes(w, "application/json", data)
}

func (s *Server) handleCacheSet(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "cache documents must be JSON")
		return
	}
	if err := s.deps.Source.CacheSet(r.PathValue("name"), body); err != nil {
		writeError(w, statusForError(err), "failed to store cache document")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleArchive(w http.ResponseWriter, _ *http.Request) {
	data, err := s.deps.Source.Archive(s.cfg.StaticPath, nil)
	if err != nil {
		s.logger.Error("archive build failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build archive")
		return
	}
	writeBytes(w, "application/zip", data)
}

type queryRequest struct {
	SQL  string `json:"sql"`
	Type string `json:"type"`
}

func (s *Server) handleQueryGet(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("query")
	var req queryRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		writeError(w, http.StatusBadRequest, "query parameter must be a JSON object")
		return
	}
	s.runQuery(w, r, req)
}

func (s *Server) handleQueryPost(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}
	s.runQuery(w, r, req)
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request, req queryRequest) {
	if s.deps.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "query engine not enabled")
		return
	}

	res, err := dispatchDo(r.Context(), s.deps.Dispatch, func(ctx context.Context) (*query.Result, error) {
		return s.deps.Gateway.Execute(ctx, req.SQL, query.Mode(req.Type))
	})
	if err != nil {
		s.writeExecutionError(w, err)
		return
	}
	writeBytes(w, res.MediaType, res.Bytes)
}

type selectionRequest struct {
	Predicate *string `json:"predicate"`
	Format    string  `json:"format"`
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "query engine not enabled")
		return
	}

	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	res, err := dispatchDo(r.Context(), s.deps.Dispatch, func(ctx context.Context) (*query.Result, error) {
		return s.deps.Exporter.Export(ctx, req.Predicate, query.Format(req.Format))
	})
	if err != nil {
		s.writeExecutionError(w, err)
		return
	}
	writeBytes(w, res.MediaType, res.Bytes)
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bridge == nil {
		writeError(w, http.StatusServiceUnavailable, "no peer connected")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16<<20))
	if err != nil || !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "request body must be JSON")
		return
	}

	resp, err := s.deps.Bridge.SendRequest(r.Context(), body)
	if err != nil {
		writeError(w, statusForError(err), peerErrorMessage(err))
		return
	}
	if resp == nil {
		resp = json.RawMessage("null")
	}
	writeBytes(w, "application/json", resp)
}

func peerErrorMessage(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrNoPeer):
		return "no peer connected"
	case stderrors.Is(err, errors.ErrPeerTimeout):
		return "request timeout"
	case stderrors.Is(err, errors.ErrPeerDisconnected):
		return "peer disconnected"
	default:
		return "internal server error"
	}
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Capabilities)
}

func (s *Server) handleComputeEmbedding(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "projection engine not enabled")
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	req, err := parseProjectionRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := dispatchDo(r.Context(), s.deps.Dispatch, func(ctx context.Context) (*projection.Projection, error) {
		return s.deps.Engine.Project(ctx, req)
	})
	if err != nil {
		s.writeExecutionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"projection":    p.Points,
		"knn_indices":   p.KNNIndices,
		"knn_distances": p.KNNDistances,
	})
}

func parseProjectionRequest(body map[string]any) (*projection.Request, error) {
	kind := projection.Kind(config.GetString(body, "type", string(projection.KindText)))

	req := &projection.Request{
		Kind:      kind,
		Model:     config.GetString(body, "model", ""),
		BatchSize: config.GetInt(body, "batch_size", 0),
	}
	if args := config.GetMap(body, "umap_args"); args != nil {
		req.Params = reduction.Params{
			NNeighbors: config.GetInt(args, "n_neighbors", 0),
			Metric:     config.GetString(args, "metric", ""),
			MinDist:    config.GetFloat64(args, "min_dist", 0),
		}
	}

	rawData, ok := body["data"].([]any)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidData,
			"Server", "computeEmbedding", "data must be an array")
	}

	if kind == projection.KindVector {
		vectors := make([][]float32, len(rawData))
		for i, item := range rawData {
			row, ok := item.([]any)
			if !ok {
				return nil, errors.WrapInvalid(errors.ErrInvalidData,
					"Server", "computeEmbedding", "vector rows must be numeric arrays")
			}
			vec := make([]float32, len(row))
			for j, x := range row {
				f, ok := x.(float64)
				if !ok {
					return nil, errors.WrapInvalid(errors.ErrInvalidData,
						"Server", "computeEmbedding", "vector rows must be numeric arrays")
				}
				vec[j] = float32(f)
			}
			vectors[i] = vec
		}
		req.Vectors = vectors
		return req, nil
	}

	items := make([]string, len(rawData))
	for i, item := range rawData {
		s, ok := item.(string)
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrInvalidData,
				"Server", "computeEmbedding", "data items must be strings")
		}
		items[i] = s
	}
	req.Items = items
	return req, nil
}

// writeExecutionError answers compute and query failures. Engine and
// computation errors surface as 500 with the error text; a saturated
// dispatcher surfaces as 503 so clients can back off and retry.
func (s *Server) writeExecutionError(w http.ResponseWriter, err error) {
	if stderrors.Is(err, errors.ErrQueueFull) || stderrors.Is(err, worker.ErrQueueFull) {
		writeError(w, http.StatusServiceUnavailable, "server busy, retry later")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
