// Package metrics exposes the process's Prometheus counters/gauges over
// HTTP, grounded on the coinbase pack repo's package-level
// prometheus.MustRegister + promhttp.Handler pattern (metrics.go, main.go).
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_job_runs_total",
			Help: "Scheduled job runs, by job name and outcome.",
		},
		[]string{"job", "outcome"},
	)

	JobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copytrader_job_duration_seconds",
			Help:    "Scheduled job run duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	WalletsDiscovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "copytrader_wallets_discovered_total",
			Help: "Wallets inserted by the discovery producers.",
		},
	)

	TradesMirrored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_trades_mirrored_total",
			Help: "Trades mirrored into paper_trades, by outcome.",
		},
		[]string{"outcome"},
	)

	RiskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_risk_rejections_total",
			Help: "Mirror attempts rejected by the risk manager, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(JobRuns, JobDurationSeconds, WalletsDiscovered, TradesMirrored, RiskRejections)
}

// Serve starts the /metrics HTTP endpoint and blocks until ctx is
// cancelled, then shuts the server down gracefully. A blank addr disables
// the endpoint.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
