// Package http exposes the read-mostly operational API: health, metrics,
// risk state, the directive audit trail, and the emergency/limits admin
// endpoints.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// ServerConfig holds the listener configuration.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DefaultServerConfig binds to localhost:8090.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server wires the handlers into a gorilla/mux router.
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *Handlers
	config   ServerConfig
}

// NewServer creates the server and verifies the port is free.
func NewServer(config ServerConfig, handlers *Handlers) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", config.Port, err)
	}
	listener.Close()

	s := &Server{
		router:   mux.NewRouter(),
		handlers: handlers,
		config:   config,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/risk", s.handlers.Risk).Methods("GET")
	s.router.HandleFunc("/directives", s.handlers.Directives).Methods("GET")
	s.router.HandleFunc("/directives/{id}", s.handlers.DirectiveByID).Methods("GET")
	s.router.HandleFunc("/limits", s.handlers.GetLimits).Methods("GET")
	s.router.HandleFunc("/limits", s.handlers.UpdateLimits).Methods("PUT")
	s.router.HandleFunc("/emergency/{instrument}/clear", s.handlers.ClearEmergency).Methods("POST")
	s.router.HandleFunc("/signals", s.handlers.SubmitSignal).Methods("POST")
	s.router.HandleFunc("/outcomes", s.handlers.SubmitOutcome).Methods("POST")
	s.router.HandleFunc("/account", s.handlers.UpdateAccount).Methods("POST")

	if s.handlers.metrics != nil {
		s.router.Handle("/metrics", s.handlers.metrics.Handler()).Methods("GET")
	}
	if s.handlers.stream != nil {
		s.router.HandleFunc("/ws", s.handlers.stream.Handler()).Methods("GET")
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).Msg("http request")
	})
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler { return s.router }

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
