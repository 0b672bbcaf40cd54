// Package metrics exposes per-run prometheus counters for the pipeline stages.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Skip reasons for FragmentsSkipped.
const (
	ReasonTooShort       = "too_short"
	ReasonEmbeddingError = "embedding_error"
	ReasonLoadError      = "load_error"
)

// Recorder owns a registry so each run reports only its own numbers.
type Recorder struct {
	Registry *prometheus.Registry

	ChunksProcessed    prometheus.Counter
	FragmentsEmitted   prometheus.Counter
	FragmentsSkipped   *prometheus.CounterVec
	TimelineCache      *prometheus.CounterVec
	OracleRequests     *prometheus.CounterVec
	OracleDuration     *prometheus.HistogramVec
	ReferencesSelected *prometheus.CounterVec
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		Registry: prometheus.NewRegistry(),
		ChunksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voiceline_chunks_processed_total",
			Help: "Total number of audio chunks sent through voice activity detection",
		}),
		FragmentsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voiceline_fragments_emitted_total",
			Help: "Total number of fragments emitted into a timeline",
		}),
		FragmentsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceline_fragments_skipped_total",
			Help: "Fragments excluded from speaker clustering by reason",
		}, []string{"reason"}),
		TimelineCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceline_timeline_cache_total",
			Help: "Timeline cache lookups by result (hit/miss/invalid)",
		}, []string{"result"}),
		OracleRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceline_oracle_requests_total",
			Help: "Requests sent to external oracles by oracle and status",
		}, []string{"oracle", "status"}),
		OracleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voiceline_oracle_duration_seconds",
			Help:    "Oracle request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"oracle"}),
		ReferencesSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceline_references_selected_total",
			Help: "Reference selections by outcome (matched/unmatched/short)",
		}, []string{"outcome"}),
	}
	r.Registry.MustRegister(
		r.ChunksProcessed,
		r.FragmentsEmitted,
		r.FragmentsSkipped,
		r.TimelineCache,
		r.OracleRequests,
		r.OracleDuration,
		r.ReferencesSelected,
	)
	return r
}

func (r *Recorder) ChunkProcessed() {
	if r == nil {
		return
	}
	r.ChunksProcessed.Inc()
}

func (r *Recorder) FragmentEmitted() {
	if r == nil {
		return
	}
	r.FragmentsEmitted.Inc()
}

func (r *Recorder) FragmentSkipped(reason string) {
	if r == nil {
		return
	}
	r.FragmentsSkipped.WithLabelValues(reason).Inc()
}

func (r *Recorder) CacheResult(result string) {
	if r == nil {
		return
	}
	r.TimelineCache.WithLabelValues(result).Inc()
}

func (r *Recorder) ReferenceSelected(outcome string) {
	if r == nil {
		return
	}
	r.ReferencesSelected.WithLabelValues(outcome).Inc()
}

// OracleRequest records one oracle round trip.
func (r *Recorder) OracleRequest(oracle string, err error, took time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.OracleRequests.WithLabelValues(oracle, status).Inc()
	r.OracleDuration.WithLabelValues(oracle).Observe(took.Seconds())
}

// WriteFile dumps the registry in text exposition format.
func (r *Recorder) WriteFile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.Registry)
}
