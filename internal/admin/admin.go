// Package admin serves the operational HTTP surface: health checks,
// Prometheus metrics and a point-in-time book snapshot. It is separate
// from the trader protocol and can be disabled entirely.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/efreitasn/bourse/internal/clientreg"
	"github.com/efreitasn/bourse/internal/exchange"
	"github.com/efreitasn/bourse/internal/metrics"
	"github.com/efreitasn/bourse/internal/trader"
)

type statsResponse struct {
	Book    exchange.Snapshot `json:"book"`
	Traders int               `json:"traders"`
	Clients int               `json:"clients"`
}

// NewRouter creates a chi router with all admin routes and request
// logging registered.
func NewRouter(ex *exchange.Exchange, reg *trader.Registry, creg *clientreg.Registry, met *metrics.Metrics, log *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogging(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(met.Registry(), promhttp.HandlerOpts{}))
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statsResponse{
			Book:    ex.Snapshot(),
			Traders: reg.Len(),
			Clients: creg.Len(),
		})
	})

	return r
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// requestLogging returns middleware that logs each request's method,
// path, status code, and duration. Scrapers hit this surface on a
// schedule, so it logs at debug.
func requestLogging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			log.Debug("admin request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
