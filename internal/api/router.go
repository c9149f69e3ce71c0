package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentpay/agentpay/internal/account"
	"github.com/agentpay/agentpay/internal/balance"
	"github.com/agentpay/agentpay/internal/card"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/metrics"
	"github.com/agentpay/agentpay/internal/ratelimit"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Registry *account.Registry
	Cards    *card.Manager
	Ledger   *ledger.Ledger
	Oracle   balance.Oracle // nil when no chain RPC is configured
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics
	CORS     []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.CORS))
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(httpMetrics(deps.Metrics))
	}

	// Handlers.
	agents := newAgentsHandler(deps.Registry, deps.Oracle, deps.Metrics)
	cards := newCardsHandler(deps.Cards)
	txs := newTransactionsHandler(deps.Ledger)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Metrics.
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
		r.Get("/metrics/summary", deps.Metrics.Handler())
	}

	// Rate limiting keyed by the agent id in the URL. Reads stay unlimited.
	var limited func(http.Handler) http.Handler
	if deps.Limiter != nil {
		onReject := []func(){}
		if deps.Metrics != nil {
			onReject = append(onReject, func() { deps.Metrics.IncRateLimitRejection("agent") })
		}
		limited = ratelimit.Middleware(deps.Limiter, func(r *http.Request) string {
			return chi.URLParam(r, "agentID")
		}, onReject...)
	}

	r.Route("/api/v1", func(ar chi.Router) {
		ar.Post("/agents", agents.Register)
		ar.Get("/agents/{agentID}", agents.Get)
		ar.Get("/agents/{agentID}/balance", agents.Balance)
		ar.Get("/agents/{agentID}/deposit-address", agents.DepositAddress)

		ar.Get("/agents/{agentID}/card", cards.Get)
		ar.Get("/agents/{agentID}/transactions", txs.History)
		ar.Get("/transactions/{txID}", txs.Get)

		// Money movement and card issuance, rate limited per agent.
		ar.Group(func(mr chi.Router) {
			if limited != nil {
				mr.Use(limited)
			}
			mr.Post("/agents/{agentID}/card", cards.GetOrCreate)
			mr.Post("/agents/{agentID}/spend", txs.Spend)
			mr.Post("/agents/{agentID}/deposits", txs.Deposit)
			mr.Post("/agents/{agentID}/transfers", txs.Transfer)
		})

		ar.Post("/cards/{cardID}/freeze", cards.Freeze)
		ar.Post("/cards/{cardID}/cancel", cards.Cancel)

		// Settlement callbacks from rail providers.
		ar.Post("/reconcile", txs.Reconcile)
	})

	return r
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
		)
	})
}

// httpMetrics records request counts and latency labelled by the chi route
// pattern, keeping metric cardinality bounded.
func httpMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = "unmatched"
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		})
	}
}
