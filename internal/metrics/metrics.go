// Package metrics exposes the Prometheus counters, gauges, and histograms
// instrumenting the Controller, Coordinator, and NLPRP runtime.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/sirupsen/logrus"
)

var (
	RecordsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cratenlp_records_read_total",
			Help: "Total source records pulled from the Planner",
		},
		[]string{"nlpdef", "source_table"},
	)

	RecordsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cratenlp_records_failed_total",
			Help: "Total records with at least one failed processor result",
		},
		[]string{"nlpdef", "processor"},
	)

	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cratenlp_rows_written_total",
			Help: "Total extraction rows staged to a destination table",
		},
		[]string{"nlpdef", "destination_table"},
	)

	ExtractorBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cratenlp_extractor_batch_duration_seconds",
			Help:    "Time spent in one ProcessBatch call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"processor", "extractor_type"},
	)

	ProgressUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cratenlp_progress_upserts_total",
			Help: "Total ProgressEntry upserts",
		},
		[]string{"nlpdef", "source_table"},
	)

	CommitFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cratenlp_commit_flushes_total",
			Help: "Total DestinationWriter flushes, by trigger",
		},
		[]string{"destination_table", "trigger"}, // trigger: rows, bytes, final
	)

	ActiveShardWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cratenlp_active_shard_workers",
		Help: "Number of Coordinator-launched sibling processes currently running",
	})

	ShardExitCode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cratenlp_shard_exit_code",
			Help: "Exit code of the most recently completed run for each shard index",
		},
		[]string{"shard"},
	)

	NLPRPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cratenlp_nlprp_requests_total",
			Help: "Total NLPRP client requests, by command and outcome",
		},
		[]string{"command", "outcome"}, // outcome: ok, retried, failed
	)

	NLPRPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cratenlp_nlprp_request_duration_seconds",
			Help:    "NLPRP client round-trip latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	NLPRPQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cratenlp_nlprp_queue_depth",
			Help: "Number of queued NLPRP requests awaiting collection, by status",
		},
		[]string{"status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cratenlp_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"processor"},
	)

	HostCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cratenlp_host_cpu_percent",
		Help: "Host CPU utilization (0-100), sampled periodically while a shard worker runs",
	})
)

// Server serves /metrics (Prometheus exposition) and /healthz.
type Server struct {
	httpServer *http.Server
	logger     *logrus.Logger
}

// NewServer builds a metrics HTTP server bound to addr. It does not start
// listening until Start is called.
func NewServer(addr string, logger *logrus.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		logger:     logger,
	}
}

// Start runs the server in a background goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server error")
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// RecordRecordsRead increments RecordsRead by n.
func RecordRecordsRead(nlpdef, sourceTable string, n int) {
	RecordsRead.WithLabelValues(nlpdef, sourceTable).Add(float64(n))
}

// RecordRecordFailed increments RecordsFailed for one processor failure.
func RecordRecordFailed(nlpdef, processor string) {
	RecordsFailed.WithLabelValues(nlpdef, processor).Inc()
}

// RecordRowsWritten increments RowsWritten by n.
func RecordRowsWritten(nlpdef, destinationTable string, n int) {
	RowsWritten.WithLabelValues(nlpdef, destinationTable).Add(float64(n))
}

// RecordExtractorBatch observes one ProcessBatch call's wall-clock duration.
func RecordExtractorBatch(processor, extractorType string, d time.Duration) {
	ExtractorBatchDuration.WithLabelValues(processor, extractorType).Observe(d.Seconds())
}

// RecordProgressUpsert increments ProgressUpserts.
func RecordProgressUpsert(nlpdef, sourceTable string) {
	ProgressUpserts.WithLabelValues(nlpdef, sourceTable).Inc()
}

// RecordCommitFlush increments CommitFlushes for the given trigger.
func RecordCommitFlush(destinationTable, trigger string) {
	CommitFlushes.WithLabelValues(destinationTable, trigger).Inc()
}

// SetShardExitCode records the last observed exit code for a shard index.
func SetShardExitCode(shard string, code int) {
	ShardExitCode.WithLabelValues(shard).Set(float64(code))
}

// RecordNLPRPRequest increments NLPRPRequestsTotal and observes its latency.
func RecordNLPRPRequest(command, outcome string, d time.Duration) {
	NLPRPRequestsTotal.WithLabelValues(command, outcome).Inc()
	NLPRPRequestDuration.WithLabelValues(command).Observe(d.Seconds())
}

// SetNLPRPQueueDepth sets the current queue depth for one status bucket.
func SetNLPRPQueueDepth(status string, depth int) {
	NLPRPQueueDepth.WithLabelValues(status).Set(float64(depth))
}

// SetCircuitBreakerState records a processor's circuit breaker state.
func SetCircuitBreakerState(processor string, state int) {
	CircuitBreakerState.WithLabelValues(processor).Set(float64(state))
}

// CPUSampler periodically updates HostCPUPercent from cumulative host CPU
// times, the same total-minus-idle delta the teacher's enhanced metrics
// collector uses, narrowed to the one gauge a shard worker's /metrics
// endpoint needs: how much of the host this process's run is competing for.
type CPUSampler struct {
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewCPUSampler builds a sampler that updates HostCPUPercent every
// interval once Start is called.
func NewCPUSampler(interval time.Duration) *CPUSampler {
	return &CPUSampler{interval: interval, stop: make(chan struct{}), done: make(chan struct{})}
}

// Start begins sampling in a background goroutine. Call Stop to end it.
func (c *CPUSampler) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		var lastTotal, lastIdle float64
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				times, err := cpu.Times(false)
				if err != nil || len(times) == 0 {
					continue
				}
				total := times[0].Total()
				idle := times[0].Idle
				if lastTotal > 0 {
					deltaTotal := total - lastTotal
					deltaIdle := idle - lastIdle
					if deltaTotal > 0 {
						HostCPUPercent.Set(100.0 * (deltaTotal - deltaIdle) / deltaTotal)
					}
				}
				lastTotal, lastIdle = total, idle
			}
		}
	}()
}

// Stop ends the sampling goroutine and waits for it to exit.
func (c *CPUSampler) Stop() {
	close(c.stop)
	<-c.done
}
