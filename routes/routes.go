package routes

import (
	"net/http"
	"time"

	"github.com/bluelight-hub/app-sub009/app"
	"github.com/bluelight-hub/app-sub009/handlers"
	"github.com/bluelight-hub/app-sub009/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.RequestMetrics(deps.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler := handlers.NewHealthHandler(deps.Health, deps.Logger)
	metricsHandler := handlers.NewMetricsHandler(deps.Metrics, deps.Snapshotter, deps.Logger)
	securityLogHandler := handlers.NewSecurityLogHandler(deps.Queue, deps.Verifier, deps.Logger)

	// Health endpoints
	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/health/ready", healthHandler.HandleReadiness)

	// Metrics exposition
	r.Method(http.MethodGet, "/metrics", metricsHandler.Exposition())
	r.Get("/metrics/snapshot", metricsHandler.HandleSnapshot)

	// Security log API
	r.Route("/api/security-log", func(r chi.Router) {
		r.Post("/", securityLogHandler.HandleIngest)
		r.Get("/verify", securityLogHandler.HandleVerify)
		r.Get("/last-valid", securityLogHandler.HandleLastValid)
	})

	return r
}
