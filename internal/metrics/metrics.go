// Package metrics tracks ingestion counters. The JSON snapshot backs the
// `/metrics` endpoint and MCP tool; the same values are mirrored into
// Prometheus collectors for scrape-based observability.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds process-wide ingestion counters. All mutation goes through
// atomic operations; reads are wait-free snapshots. Counters reset on process
// start and are never persisted.
type Registry struct {
	documentsIndexed atomic.Uint64
	chunksIndexed    atomic.Uint64
	lastChunkSize    atomic.Uint64

	promDocuments prometheus.Counter
	promChunks    prometheus.Counter
	promChunkSize prometheus.Gauge
}

// Snapshot is an immutable view of the counters. LastChunkSize is nil until
// the first document lands.
type Snapshot struct {
	DocumentsIndexed uint64  `json:"documents_indexed"`
	ChunksIndexed    uint64  `json:"chunks_indexed"`
	LastChunkSize    *uint64 `json:"last_chunk_size,omitempty"`
}

// NewRegistry creates a registry and registers its Prometheus collectors on
// the given registerer (pass prometheus.DefaultRegisterer in production).
func NewRegistry(registerer prometheus.Registerer) *Registry {
	r := &Registry{
		promDocuments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rustymem_documents_indexed_total",
			Help: "Number of documents indexed since startup.",
		}),
		promChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rustymem_chunks_indexed_total",
			Help: "Total chunks indexed across all documents.",
		}),
		promChunkSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rustymem_last_chunk_size",
			Help: "Token budget used for the most recent ingestion.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(r.promDocuments, r.promChunks, r.promChunkSize)
	}
	return r
}

// RecordDocument notes one processed document, its chunk count, and the
// effective chunk size. Updates happen once per request, not per chunk.
func (r *Registry) RecordDocument(chunkCount, chunkSize uint64) {
	r.documentsIndexed.Add(1)
	r.chunksIndexed.Add(chunkCount)
	r.lastChunkSize.Store(chunkSize)

	r.promDocuments.Inc()
	r.promChunks.Add(float64(chunkCount))
	r.promChunkSize.Set(float64(chunkSize))
}

// Snapshot returns the current counter values.
func (r *Registry) Snapshot() Snapshot {
	snapshot := Snapshot{
		DocumentsIndexed: r.documentsIndexed.Load(),
		ChunksIndexed:    r.chunksIndexed.Load(),
	}
	last := r.lastChunkSize.Load()
	if snapshot.DocumentsIndexed > 0 && last > 0 {
		snapshot.LastChunkSize = &last
	}
	return snapshot
}
