package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	MessagesProcessedTotal *prometheus.CounterVec
	ClaimSkippedTotal      *prometheus.CounterVec
	ProviderCallsTotal     *prometheus.CounterVec
	ReconnectsTotal        prometheus.Counter
	BatchDuration          prometheus.Histogram
	QueueDepth             prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		MessagesProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messenger_messages_processed_total",
				Help: "Total number of queue rows processed",
			},
			[]string{"status"}, // success | failed | skipped
		),
		ClaimSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messenger_claim_skipped_total",
				Help: "Rows skipped during claim",
			},
			[]string{"reason"}, // lock | stolen
		),
		ProviderCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messenger_provider_calls_total",
				Help: "Outbound provider dispatch outcomes",
			},
			[]string{"provider", "outcome"},
		),
		ReconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "messenger_db_reconnects_total",
				Help: "Database reconnect attempts after recoverable errors",
			},
		),
		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "messenger_batch_duration_seconds",
				Help:    "Duration of one claim-dispatch-archive batch",
				Buckets: prometheus.DefBuckets,
			},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "messenger_queue_depth",
				Help: "Pending rows visible to this worker's mode",
			},
		),
	}
}

// Serve exposes /metrics on addr. Errors are delivered on the returned
// channel; the server runs until the process exits.
func (m *Metrics) Serve(addr string) <-chan error {
	errCh := make(chan error, 1)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		errCh <- server.ListenAndServe()
	}()
	return errCh
}
