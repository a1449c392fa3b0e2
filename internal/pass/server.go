package pass

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/zombor/visitor-pass/internal/capture"
)

// Server handles HTTP requests for visitor passes
type Server struct {
	service *Service
	capture capture.Config
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, cfg capture.Config) *Server {
	return NewServerWithMux(service, cfg, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, cfg capture.Config, mux *http.ServeMux) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = capture.DefaultMaxUploadBytes
	}
	s := &Server{
		service: service,
		capture: cfg,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/passes/{id}", s.handleGetPass)
	s.mux.HandleFunc("GET /api/passes", s.handleListPasses)
	s.mux.HandleFunc("POST /api/passes", s.handleCreatePass)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
