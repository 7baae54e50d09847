package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingest outcomes.
const (
	IngestAccepted     = "accepted"
	IngestDuplicate    = "duplicate"
	IngestInvalid      = "invalid"
	IngestTransient    = "transient"
	IngestStorageError = "storage_config"
)

// Worker record outcomes.
const (
	OutcomeDone     = "done"
	OutcomeError    = "error"
	OutcomeConflict = "conflict"
	OutcomeDeferred = "deferred"
	OutcomeReleased = "released"
)

type Config struct {
	ServiceName string
	Environment string
}

// Pipeline holds the ingestion and transcription counters. All methods are nil-safe
// so components can run without metrics in tests.
type Pipeline struct {
	ingest        *prometheus.CounterVec
	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	records       *prometheus.CounterVec
	retries       *prometheus.CounterVec
	recovered     prometheus.Counter
	stageDuration *prometheus.HistogramVec
}

// NewPipeline registers collectors on registerer (prometheus.DefaultRegisterer when nil).
func NewPipeline(registerer prometheus.Registerer, cfg Config) *Pipeline {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "callsense"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	p := &Pipeline{
		ingest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "callsense_ingest_total",
			Help:        "Recording webhook deliveries by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "callsense_worker_cycles_total",
			Help:        "Completed worker cycles.",
			ConstLabels: constLabels,
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "callsense_worker_cycle_duration_seconds",
			Help:        "Wall time of one worker cycle.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "callsense_worker_records_total",
			Help:        "Records handled by the worker by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "callsense_worker_retries_total",
			Help:        "Retried transient failures by stage.",
			ConstLabels: constLabels,
		}, []string{"stage"}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "callsense_worker_recovered_claims_total",
			Help:        "Expired transcribing claims returned to pending.",
			ConstLabels: constLabels,
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "callsense_worker_stage_duration_seconds",
			Help:        "Latency of retrieval and analysis per record.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			ConstLabels: constLabels,
		}, []string{"stage"}),
	}

	registerer.MustRegister(
		p.ingest,
		p.cycles,
		p.cycleDuration,
		p.records,
		p.retries,
		p.recovered,
		p.stageDuration,
	)
	return p
}

func (p *Pipeline) IncIngest(outcome string) {
	if p == nil {
		return
	}
	p.ingest.WithLabelValues(outcome).Inc()
}

func (p *Pipeline) ObserveCycle(d time.Duration) {
	if p == nil {
		return
	}
	p.cycles.Inc()
	p.cycleDuration.Observe(d.Seconds())
}

func (p *Pipeline) IncRecord(outcome string) {
	if p == nil {
		return
	}
	p.records.WithLabelValues(outcome).Inc()
}

func (p *Pipeline) IncRetry(stage string) {
	if p == nil {
		return
	}
	p.retries.WithLabelValues(stage).Inc()
}

func (p *Pipeline) AddRecovered(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.recovered.Add(float64(n))
}

func (p *Pipeline) ObserveStage(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
