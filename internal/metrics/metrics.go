package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes controller counters. A nil *Metrics is valid and records
// nothing, so tests and metric-less deployments skip registration entirely.
type Metrics struct {
	SwapsFolded     prometheus.Counter
	DecodeFailures  prometheus.Counter
	BackfillPasses  prometheus.Counter
	FetchRetries    prometheus.Counter
	FetchBisections prometheus.Counter
	IssueAttempts   prometheus.Counter
	IssueSuccesses  prometheus.Counter
	IssueFailures   prometheus.Counter
	SwapCursor      prometheus.Gauge
	TransferCursor  prometheus.Gauge
}

// New registers controller metrics with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SwapsFolded: factory.NewCounter(prometheus.CounterOpts{
			Name: "controller_swaps_folded_total",
			Help: "Swap events folded into the wallet ledger",
		}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "controller_decode_failures_total",
			Help: "Logs that failed typed decoding and were skipped",
		}),
		BackfillPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "controller_backfill_passes_total",
			Help: "Completed backfill passes",
		}),
		FetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "controller_fetch_retries_total",
			Help: "Log range fetch retries (rate limit or single block)",
		}),
		FetchBisections: factory.NewCounter(prometheus.CounterOpts{
			Name: "controller_fetch_bisections_total",
			Help: "Log range fetches split after a provider failure",
		}),
		IssueAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "controller_issue_attempts_total",
			Help: "Reward issuance submissions",
		}),
		IssueSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "controller_issue_successes_total",
			Help: "Confirmed reward issuances",
		}),
		IssueFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "controller_issue_failures_total",
			Help: "Failed reward issuances entering cooldown",
		}),
		SwapCursor: factory.NewGauge(prometheus.GaugeOpts{
			Name: "controller_swap_cursor_block",
			Help: "Last durably processed swap block",
		}),
		TransferCursor: factory.NewGauge(prometheus.GaugeOpts{
			Name: "controller_transfer_cursor_block",
			Help: "Last durably processed transfer block",
		}),
	}
}

func (m *Metrics) IncSwapsFolded() {
	if m != nil {
		m.SwapsFolded.Inc()
	}
}

func (m *Metrics) IncDecodeFailures() {
	if m != nil {
		m.DecodeFailures.Inc()
	}
}

func (m *Metrics) IncBackfillPasses() {
	if m != nil {
		m.BackfillPasses.Inc()
	}
}

func (m *Metrics) IncFetchRetries() {
	if m != nil {
		m.FetchRetries.Inc()
	}
}

func (m *Metrics) IncFetchBisections() {
	if m != nil {
		m.FetchBisections.Inc()
	}
}

func (m *Metrics) IncIssueAttempts() {
	if m != nil {
		m.IssueAttempts.Inc()
	}
}

func (m *Metrics) IncIssueSuccesses() {
	if m != nil {
		m.IssueSuccesses.Inc()
	}
}

func (m *Metrics) IncIssueFailures() {
	if m != nil {
		m.IssueFailures.Inc()
	}
}

func (m *Metrics) SetSwapCursor(block uint64) {
	if m != nil {
		m.SwapCursor.Set(float64(block))
	}
}

func (m *Metrics) SetTransferCursor(block uint64) {
	if m != nil {
		m.TransferCursor.Set(float64(block))
	}
}

// Server serves the default registry on /metrics.
func Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
