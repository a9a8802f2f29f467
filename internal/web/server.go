package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/yehancha/crypto-dashboard/internal/usecase"
)

// Server exposes the tracker state over REST and streams updates over a
// websocket hub. The browser dashboard is served from another origin, so
// CORS is part of the contract.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	tracker *usecase.Tracker
	alerts  *usecase.AlertService
	hub     *Hub
	logger  *zap.Logger
}

func NewServer(
	port int,
	allowedOrigins []string,
	tracker *usecase.Tracker,
	alerts *usecase.AlertService,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		tracker: tracker,
		alerts:  alerts,
		hub:     NewHub(logger),
		logger:  logger,
	}

	// Every published snapshot and recorded alert goes straight out to the
	// connected dashboards.
	tracker.OnSnapshot(s.hub.BroadcastSnapshot)
	alerts.OnAlert(s.hub.BroadcastAlert)

	s.routes(allowedOrigins)
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes(allowedOrigins []string) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/snapshots", s.handleSnapshots)

		r.Post("/symbols", s.handleTrack)
		r.Delete("/symbols/{symbol}", s.handleUntrack)
		r.Put("/symbols/order", s.handleReorder)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)

		r.Get("/alerts", s.handleAlerts)
		r.Get("/health", s.handleHealth)
	})

	s.router.Get("/ws", s.hub.HandleWebSocket)
}

// requestLogger logs one line per completed request through zap.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}
