package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Kurokamori/reward-engine/internal/config"
	"github.com/Kurokamori/reward-engine/internal/engine"
	"github.com/Kurokamori/reward-engine/internal/ledger"
	"github.com/Kurokamori/reward-engine/internal/metrics"
	"github.com/Kurokamori/reward-engine/internal/notify"
	"github.com/Kurokamori/reward-engine/internal/storage"
)

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	engine         *engine.Engine
	ledger         *ledger.Ledger
	broker         notify.Broker
	repo           storage.Repository
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	rewardEngine *engine.Engine,
	allocLedger *ledger.Ledger,
	broker notify.Broker,
	repo storage.Repository,
) *Server {
	s := &Server{
		config:         cfg,
		engine:         rewardEngine,
		ledger:         allocLedger,
		broker:         broker,
		repo:           repo,
		authMiddleware: NewAuthMiddleware(repo),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method("GET", "/metrics", metrics.Handler())

	// API v1 routes (protected by authentication)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)

		// Rewards
		r.Route("/rewards", func(r chi.Router) {
			r.Post("/calculate", s.handleCalculate)
			r.Post("/finalize", s.handleFinalize)
		})

		// Pools and allocations
		r.Get("/pools", s.handleListPools)
		r.Route("/allocations/{poolId}", func(r chi.Router) {
			r.Post("/", s.handleAllocate)
			r.Get("/", s.handlePoolStatus)
			r.Post("/close", s.handleClosePool)
			r.Get("/watch", s.handleWatchPool)
		})

		// Roster
		r.Route("/trainers", func(r chi.Router) {
			r.Get("/", s.handleListTrainers)
			r.Get("/{id}", s.handleGetTrainer)
			r.Get("/{id}/monsters", s.handleListMonsters)
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
