// Package metrics exposes this worker's Prometheus counters/gauges
// and the /metrics HTTP endpoint, mirroring spec.md §4.9's "log
// counts of polls/found/processed/failed/active" requirement with a
// scrape-able surface alongside the log lines.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Polls           prometheus.Counter
	JobsFound       prometheus.Counter
	JobsDispatched  prometheus.Counter
	JobsProcessed   prometheus.Counter
	JobsFailed      prometheus.Counter
	JobsRecovered   prometheus.Counter
	ActiveJobs      prometheus.Gauge
	JobDuration     prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Polls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_worker_polls_total",
			Help: "Total number of scheduler poll ticks.",
		}),
		JobsFound: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_worker_jobs_found_total",
			Help: "Total number of candidate jobs observed across all polls.",
		}),
		JobsDispatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_worker_jobs_dispatched_total",
			Help: "Total number of jobs handed to a JobExecutor.",
		}),
		JobsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_worker_jobs_processed_total",
			Help: "Total number of jobs that completed successfully.",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_worker_jobs_failed_total",
			Help: "Total number of jobs that ended in a failed terminal state.",
		}),
		JobsRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_worker_jobs_recovered_total",
			Help: "Total number of stuck jobs reset to queued by the Recoverer.",
		}),
		ActiveJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_worker_active_jobs",
			Help: "Current number of jobs being executed by this worker process.",
		}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_worker_job_duration_seconds",
			Help:    "Duration of completed pipeline invocations.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 5400},
		}),
	}
}

// Serve starts the /metrics HTTP server on addr and blocks until ctx
// is cancelled. A non-nil error from ListenAndServe after ctx is
// cancelled (http.ErrServerClosed) is swallowed.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
