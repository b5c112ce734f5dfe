package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors holds every pumpguard metric.
type Collectors struct {
	SwapsIngested  *prometheus.CounterVec
	DuplicateSwaps *prometheus.CounterVec
	TruncatedLogs  *prometheus.CounterVec
	IngestFailures *prometheus.CounterVec
	LastBlock      *prometheus.GaugeVec
	IngestDuration *prometheus.HistogramVec
	AlertsFired    *prometheus.CounterVec
	ScoreFailures  *prometheus.CounterVec
	NoncesIssued   prometheus.Counter
	AuthAttempts   *prometheus.CounterVec
}

// New builds unregistered collectors.
func New() *Collectors {
	return &Collectors{
		SwapsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpguard_swaps_ingested_total",
			Help: "Total number of new swap records persisted",
		}, []string{"pair"}),
		DuplicateSwaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpguard_swaps_duplicate_total",
			Help: "Total number of decoded swaps skipped because the tx hash was already stored",
		}, []string{"pair"}),
		TruncatedLogs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpguard_swap_logs_truncated_total",
			Help: "Total number of swap logs whose payload was zero-filled",
		}, []string{"pair"}),
		IngestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpguard_ingest_failures_total",
			Help: "Total number of failed per-pair ingestion passes",
		}, []string{"pair", "kind"}),
		LastBlock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pumpguard_ingest_last_block",
			Help: "Highest block scanned per pair",
		}, []string{"pair"}),
		IngestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pumpguard_ingest_duration_seconds",
			Help:    "Time taken by one per-pair ingestion pass",
			Buckets: prometheus.DefBuckets,
		}, []string{"pair"}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpguard_alerts_fired_total",
			Help: "Total number of alerts produced by the scoring engine",
		}, []string{"pair", "type"}),
		ScoreFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpguard_score_failures_total",
			Help: "Total number of failed per-pair scoring passes",
		}, []string{"pair"}),
		NoncesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpguard_auth_nonces_issued_total",
			Help: "Total number of login nonces issued",
		}),
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpguard_auth_attempts_total",
			Help: "Signature verification attempts by outcome",
		}, []string{"outcome"}),
	}
}

// Register adds every collector to reg.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{
		c.SwapsIngested,
		c.DuplicateSwaps,
		c.TruncatedLogs,
		c.IngestFailures,
		c.LastBlock,
		c.IngestDuration,
		c.AlertsFired,
		c.ScoreFailures,
		c.NoncesIssued,
		c.AuthAttempts,
	} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
