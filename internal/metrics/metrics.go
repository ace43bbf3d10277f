package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "totem_checkout_requests_total",
		Help: "Checkout start/finish calls by outcome",
	}, []string{"action", "outcome"})

	LedgerRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "totem_ledger_records_total",
		Help: "Ledger fan-out writes by transaction type and outcome (created, existing, failed)",
	}, []string{"transaction_type", "outcome"})

	TerminalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "totem_terminal_transitions_total",
		Help: "Payment terminal state transitions",
	}, []string{"state"})

	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "totem_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "totem_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route"})
)

// Instrument records request count and latency labelled by the matched chi
// route pattern rather than the raw path, to keep label cardinality bounded.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
