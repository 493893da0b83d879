// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// ETL metrics
	SwapsExtracted       prometheus.Counter
	SwapsTransformed     *prometheus.CounterVec
	SwapsLoaded          prometheus.Counter
	WalletTokensMerged   prometheus.Counter
	LoadRetries          prometheus.Counter
	SwapsRolledBack      prometheus.Counter
	WindowsProcessed     *prometheus.CounterVec
	WindowDuration       *prometheus.HistogramVec
	DistinctWallets      prometheus.Gauge
	WatermarkLagSeconds  prometheus.Gauge
	ProviderCallLatency  *prometheus.HistogramVec
	CredentialRotations  prometheus.Counter
	QuotePricesCollected *prometheus.CounterVec

	// Recalculation metrics
	WalletsRecalculated *prometheus.CounterVec
	RecalcStageDuration *prometheus.HistogramVec
	WalletsFlagged      *prometheus.CounterVec

	// Query metrics
	RelatedQueries  *prometheus.CounterVec
	RelatedDuration prometheus.Histogram
	CacheRequests   *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulLoad   prometheus.Gauge
	LastSuccessfulRecalc prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	return newMetrics(namespace, prometheus.DefaultRegisterer)
}

func newMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "swap_analytics"
	}
	factory := promauto.With(reg)

	return &Metrics{
		SwapsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "etl",
			Name:      "swaps_extracted_total",
			Help:      "Total number of raw swap rows fetched from the provider",
		}),
		SwapsTransformed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "etl",
			Name:      "swaps_transformed_total",
			Help:      "Raw swap rows by transform outcome",
		}, []string{"outcome"}),
		SwapsLoaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "etl",
			Name:      "swaps_loaded_total",
			Help:      "Total number of swap facts inserted",
		}),
		WalletTokensMerged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "etl",
			Name:      "wallet_tokens_merged_total",
			Help:      "Total number of wallet-token deltas merged",
		}),
		LoadRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "etl",
			Name:      "load_retries_total",
			Help:      "Total number of load transactions retried after a conflict",
		}),
		SwapsRolledBack: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "etl",
			Name:      "swaps_rolled_back_total",
			Help:      "Total number of swap facts deleted by rollback",
		}),
		WindowsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "etl",
			Name:      "windows_processed_total",
			Help:      "ETL windows by status",
		}, []string{"status"}),
		WindowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "etl",
			Name:      "stage_duration_seconds",
			Help:      "ETL stage duration per window in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		DistinctWallets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "etl",
			Name:      "distinct_wallets_estimate",
			Help:      "Estimated distinct wallets seen by the current run",
		}),
		WatermarkLagSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "etl",
			Name:      "watermark_lag_seconds",
			Help:      "Seconds between now and the swaps parsed-until watermark",
		}),
		ProviderCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_latency_seconds",
			Help:      "Provider page fetch latency in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"status"}),
		CredentialRotations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "credential_rotations_total",
			Help:      "Total number of API keys deactivated",
		}),
		QuotePricesCollected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "prices_collected_total",
			Help:      "Per-minute quote prices stored by source",
		}, []string{"source"}),

		WalletsRecalculated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recalc",
			Name:      "wallets_total",
			Help:      "Wallets whose statistics were recomputed by scope",
		}, []string{"scope"}),
		RecalcStageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recalc",
			Name:      "stage_duration_seconds",
			Help:      "Recalculation sub-batch duration by stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		WalletsFlagged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recalc",
			Name:      "wallets_flagged_total",
			Help:      "Wallets classified by flag",
		}, []string{"flag"}),

		RelatedQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "related_wallets_total",
			Help:      "Related-wallet queries by status",
		}, []string{"status"}),
		RelatedDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "related_wallets_duration_seconds",
			Help:      "Related-wallet detection duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by result",
		}, []string{"result"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulLoad: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_load_timestamp",
			Help:      "Unix timestamp of last successful ETL window load",
		}),
		LastSuccessfulRecalc: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_recalc_timestamp",
			Help:      "Unix timestamp of last successful statistics recalculation",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSwapsExtracted adds n fetched rows.
func RecordSwapsExtracted(n int) {
	DefaultMetrics.SwapsExtracted.Add(float64(n))
}

// RecordSwapsTransformed adds n rows with the given outcome (kept, dropped, invalid).
func RecordSwapsTransformed(outcome string, n int) {
	DefaultMetrics.SwapsTransformed.WithLabelValues(outcome).Add(float64(n))
}

// RecordLoad records one committed ingest transaction.
func RecordLoad(swapsInserted int64, walletTokens int, unixTS int64) {
	DefaultMetrics.SwapsLoaded.Add(float64(swapsInserted))
	DefaultMetrics.WalletTokensMerged.Add(float64(walletTokens))
	DefaultMetrics.LastSuccessfulLoad.Set(float64(unixTS))
}

// RecordLoadRetry increments the conflict retry counter.
func RecordLoadRetry() {
	DefaultMetrics.LoadRetries.Inc()
}

// RecordRollback counts swaps deleted by a rollback.
func RecordRollback(swapsDeleted int64) {
	DefaultMetrics.SwapsRolledBack.Add(float64(swapsDeleted))
}

// RecordWindow records a finished ETL window.
func RecordWindow(status string) {
	DefaultMetrics.WindowsProcessed.WithLabelValues(status).Inc()
}

// RecordStageDuration records how long an ETL stage took for one window.
func RecordStageDuration(stage string, seconds float64) {
	DefaultMetrics.WindowDuration.WithLabelValues(stage).Observe(seconds)
}

// UpdateDistinctWallets sets the distinct wallet estimate.
func UpdateDistinctWallets(n uint64) {
	DefaultMetrics.DistinctWallets.Set(float64(n))
}

// UpdateWatermarkLag sets the watermark lag gauge.
func UpdateWatermarkLag(seconds float64) {
	DefaultMetrics.WatermarkLagSeconds.Set(seconds)
}

// RecordProviderCall records provider page latency.
func RecordProviderCall(status string, seconds float64) {
	DefaultMetrics.ProviderCallLatency.WithLabelValues(status).Observe(seconds)
}

// RecordCredentialRotation increments the key rotation counter.
func RecordCredentialRotation() {
	DefaultMetrics.CredentialRotations.Inc()
}

// RecordQuotePrices adds n stored prices from source (rest, stream).
func RecordQuotePrices(source string, n int) {
	DefaultMetrics.QuotePricesCollected.WithLabelValues(source).Add(float64(n))
}

// RecordWalletsRecalculated adds n recomputed wallets for scope.
func RecordWalletsRecalculated(scope string, n int) {
	DefaultMetrics.WalletsRecalculated.WithLabelValues(scope).Add(float64(n))
}

// RecordRecalcStage records one sub-batch of a recalculation stage.
func RecordRecalcStage(stage string, seconds float64) {
	DefaultMetrics.RecalcStageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordWalletFlagged increments the counter for flag (bot, scammer).
func RecordWalletFlagged(flag string) {
	DefaultMetrics.WalletsFlagged.WithLabelValues(flag).Inc()
}

// RecordRecalcFinished sets the last successful recalculation time.
func RecordRecalcFinished(unixTS int64) {
	DefaultMetrics.LastSuccessfulRecalc.Set(float64(unixTS))
}

// RecordRelatedQuery records a related-wallet detection.
func RecordRelatedQuery(status string, seconds float64) {
	DefaultMetrics.RelatedQueries.WithLabelValues(status).Inc()
	DefaultMetrics.RelatedDuration.Observe(seconds)
}

// RecordCache records a cache hit or miss.
func RecordCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	DefaultMetrics.CacheRequests.WithLabelValues(result).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
