// Package embedatlas is the serving and caching layer behind an embedding
// visualization front end.
//
// The server hosts one precomputed tabular dataset plus derived 2-D
// projections (dimensionality-reduced embeddings), and proxies ad-hoc
// analytical queries against the dataset. Four pieces make up the core:
//
//   - A content-addressed projection cache (projection package): expensive
//     embedding + reduction runs are memoized on a deterministic hash of
//     their inputs, so a given input set is computed at most once and
//     survives process restarts.
//
//   - A bounded worker pool (pkg/worker): query execution and selection
//     export are blocking, so inbound HTTP handlers dispatch them to the
//     pool instead of running them on the request path.
//
//   - A single-active-connection RPC bridge (bridge package): one
//     WebSocket peer at a time, with request/response correlation by id,
//     per-request timeouts, and supersession when a new peer attaches.
//
//   - Range-aware byte serving (server package): large immutable payloads
//     such as the dataset parquet are served lazily with HTTP Range
//     support.
//
// The embedding model, the reduction algorithm, and dataset parsing are
// external collaborators injected at their boundaries; see the embedding,
// reduction and datasource packages.
//
// # Layout
//
//	cmd/embedatlas   entry point (flags, logging, wiring)
//	server           HTTP surface and range byte serving
//	projection       projection type, filesystem cache, engine
//	embedding        embedding producers (local encoder, remote API)
//	reduction        reducer boundary and default kNN + layout impl
//	datasource       dataset, metadata, scratch cache, archive export
//	query            SQL gateway and selection exporter (SQLite)
//	bridge           single-peer WebSocket RPC bridge
//	config           configuration loading and validation
//	errors           classified error handling
//	metric           prometheus metrics registry
//	pkg/hashkey      canonical structural hashing
//	pkg/worker       generic bounded worker pool
//	pkg/retry        exponential backoff retry
package embedatlas
