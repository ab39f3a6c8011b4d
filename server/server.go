// Package server assembles the HTTP surface: dataset byte serving,
// metadata, the query and selection endpoints, the projection compute
// endpoint, the scratch cache, the RPC bridge transport, and metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/c360/embedatlas/bridge"
	"github.com/c360/embedatlas/config"
	"github.com/c360/embedatlas/datasource"
	"github.com/c360/embedatlas/metric"
	"github.com/c360/embedatlas/pkg/worker"
	"github.com/c360/embedatlas/projection"
	"github.com/c360/embedatlas/query"
)

// Capabilities enumerates the embedding models the deployment supports.
type Capabilities struct {
	TextModels  []string `json:"text_models"`
	ImageModels []string `json:"image_models"`
	Vector      bool     `json:"vector"`
}

// Deps are the collaborators the server serves. Gateway, Exporter,
// Engine, and Bridge may be nil; their routes then answer 503.
type Deps struct {
	Source   *datasource.DataSource
	Gateway  *query.Gateway
	Exporter *query.Exporter
	Engine   *projection.Engine
	Bridge   *bridge.Bridge
	Dispatch *worker.Dispatcher
	Registry *metric.Registry

	Capabilities Capabilities
}

// Server is the HTTP serving layer.
type Server struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	httpSrv *http.Server
}

// New creates the server. logger may be nil.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, deps: deps, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mountBytes(mux, "/data/dataset.parquet", "application/octet-stream",
		func() ([]byte, error) { return s.deps.Source.ParquetBytes() })

	mux.HandleFunc("GET /data/metadata.json", s.handleMetadata)
	mux.HandleFunc("GET /data/cache/{name}", s.handleCacheGet)
	mux.HandleFunc("POST /data/cache/{name}", s.handleCacheSet)
	mux.HandleFunc("GET /data/archive.zip", s.handleArchive)
	mux.HandleFunc("GET /data/query", s.handleQueryGet)
	mux.HandleFunc("POST /data/query", s.handleQueryPost)
	mux.HandleFunc("POST /data/selection", s.handleSelection)
	mux.HandleFunc("POST /mcp", s.handleMCP)
	mux.HandleFunc("GET /api/capabilities", s.handleCapabilities)
	mux.HandleFunc("POST /api/compute-embedding", s.handleComputeEmbedding)

	if s.deps.Bridge != nil {
		mux.HandleFunc("GET /data/mcp_websocket", s.deps.Bridge.ServeWS)
	}
	if s.deps.Registry != nil {
		mux.Handle("GET /metrics", s.deps.Registry.Handler())
	}
	if s.cfg.StaticPath != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticPath)))
	}

	var handler http.Handler = mux
	if s.deps.Registry != nil {
		handler = s.metricsMiddleware(handler)
	}
	if s.cfg.CORS.Enabled {
		handler = s.corsMiddleware(handler)
	}
	return handler
}

// Start runs the HTTP server until ctx is cancelled, then drains with a
// short grace period.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.deps.Registry.Core.ObserveHTTPRequest(
			r.URL.Path, r.Method, strconv.Itoa(rec.status), time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowed := len(s.cfg.CORS.AllowedOrigins) == 0
		for _, o := range s.cfg.CORS.AllowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}
		if allowed {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
