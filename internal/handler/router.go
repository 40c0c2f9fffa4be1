package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/observability"
	"github.com/ghostwriter/ghostwriter-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger is the readiness probe over the storage layer.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(
	authSvc *service.AuthService,
	creditSvc *service.CreditService,
	genSvc *service.GenerationService,
	billingSvc *service.BillingService,
	db Pinger,
	webhookSecret string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(metricsMiddleware(metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(db, logger))
	r.Get("/readyz", readyzHandler(db))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Authentication
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authSignupHandler(authSvc, logger))
			r.Post("/login", authLoginHandler(authSvc, logger))
			r.Post("/refresh", authRefreshHandler(authSvc, logger))

			r.Group(func(r chi.Router) {
				r.Use(JWTAuthMiddleware(authSvc, logger))
				r.Post("/logout", authLogoutHandler(authSvc, logger))
				r.Get("/me", authMeHandler(authSvc, logger))
			})
		})

		// Public catalog and metrics
		r.Get("/credits/packs", packsHandler(creditSvc, logger))
		r.Get("/metrics/usage", usageMetricsHandler(metrics))

		// Payment webhook (signature-verified, never JWT)
		r.Post("/webhooks/payment", paymentWebhookHandler(creditSvc, webhookSecret, metrics, logger))

		// Everything below needs a valid access token.
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(authSvc, logger))

			// Credits
			r.Get("/credits/balance", balanceHandler(creditSvc, logger))
			r.Get("/credits/transactions", transactionsHandler(creditSvc, logger))
			r.Post("/credits/checkout", checkoutHandler(billingSvc, authSvc, logger))

			// Generation
			r.Post("/generate/fiction", generateFictionHandler(genSvc, logger))
			r.Post("/generate/biography", generateBiographyHandler(genSvc, logger))

			// Stories
			r.Get("/stories", listStoriesHandler(genSvc, logger))
			r.Get("/stories/{storyID}", getStoryHandler(genSvc, logger))
			r.Get("/stories/{storyID}/extras", listExtrasHandler(genSvc, logger))
			r.Post("/stories/{storyID}/extras", createExtraHandler(genSvc, logger))
		})
	})

	return r
}

// metricsMiddleware records per-route request durations and outcomes.
func metricsMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = "unmatched"
			}
			metrics.RecordRequestDuration(r.Method+" "+pattern, time.Since(start))
			if ww.Status() >= http.StatusInternalServerError {
				metrics.IncrRequest("error")
			} else {
				metrics.IncrRequest("success")
			}
		})
	}
}

// ============================================================
// Probes
// ============================================================

func healthzHandler(db Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		services := []domain.ServiceHealth{
			{Name: "ghostwriter-api", Status: "healthy", LatencyMs: 0},
		}

		if db != nil {
			start := time.Now()
			err := db.Ping(ctx)
			latency := time.Since(start).Milliseconds()
			status := "healthy"
			if err != nil {
				status = "unhealthy"
				logger.Warn("database health check failed", zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name: "sqlite", Status: status, LatencyMs: latency,
			})
		}

		overall := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overall = "unhealthy"
				break
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overall,
			Services: services,
		})
	}
}

func readyzHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func usageMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetUsageSnapshot())
	}
}
