// Package metrics exposes the pipeline's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Detection metrics
var (
	TransactionsAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pauseguard_transactions_analyzed_total",
		Help: "Total number of transactions scored by the analyzer",
	})

	ThreatsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pauseguard_threats_detected_total",
			Help: "Threat events accepted into the journal by level and origin",
		},
		[]string{"level", "origin"},
	)

	FactorsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pauseguard_factors_triggered_total",
			Help: "Heuristic factors triggered by type",
		},
		[]string{"factor"},
	)

	AnalysisScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pauseguard_analysis_score",
		Help:    "Distribution of transaction risk scores",
		Buckets: []float64{10, 30, 50, 75, 85, 90, 100},
	})
)

// Response metrics
var (
	PauseAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pauseguard_pause_attempts_total",
			Help: "Pause attempts by source and outcome status",
		},
		[]string{"source", "status"},
	)

	PauseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pauseguard_pause_duration_seconds",
		Help:    "Time from pause decision to confirmed outcome",
		Buckets: []float64{0.5, 1, 2, 5, 10, 15, 30, 60, 120},
	})
)

// Connection and state metrics
var (
	MonitorConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pauseguard_monitor_connected",
		Help: "1 when the monitor websocket is connected",
	})

	MonitorReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pauseguard_monitor_reconnects_total",
		Help: "Successful monitor reconnects after an outage",
	})

	MonitorDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pauseguard_monitor_disconnects_total",
		Help: "Monitor outages announced",
	})

	LastBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pauseguard_last_block",
		Help: "Last block processed by the chain watcher",
	})

	JournalSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pauseguard_journal_events",
		Help: "Events currently retained in the live journal",
	})

	PauseQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pauseguard_pause_queue_depth",
		Help: "Automatic pauses waiting for the pause worker",
	})

	ProtectedContracts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pauseguard_contracts",
			Help: "Monitored contracts by lifecycle state",
		},
		[]string{"state"},
	)
)
