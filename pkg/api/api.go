// Package api exposes the override zone over HTTP: listing records,
// queueing mutations, and health and journal endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"override-dns/pkg/config"
	"override-dns/pkg/dns"
	"override-dns/pkg/forwarder"
	"override-dns/pkg/localrecords"
	"override-dns/pkg/logging"
	"override-dns/pkg/mutation"
	"override-dns/pkg/ratelimit"
	"override-dns/pkg/storage"
)

// Server represents the API server
type Server struct {
	handler    http.Handler
	httpServer *http.Server
	logger     *logging.Logger

	// Dependencies
	store     *localrecords.Store
	queue     *mutation.Queue
	writer    *mutation.Writer
	storage   storage.Storage
	catalog   *dns.Catalog
	forwarder *forwarder.Forwarder

	// Auth and rate limiting, replaced by ApplyConfig
	authMu       sync.RWMutex
	authEnabled  bool
	apiKey       string
	authHeader   string
	basicUser    string
	passwordHash string
	limiter      atomic.Pointer[ratelimit.Manager]
	limiterCfg   ratelimit.Config

	// Metadata
	version   string
	startTime time.Time

	mu   sync.Mutex
	addr net.Addr
}

// Config holds API server configuration
type Config struct {
	ListenAddress string
	Auth          config.APIConfig
	Store         *localrecords.Store
	Queue         *mutation.Queue
	Writer        *mutation.Writer
	Storage       storage.Storage
	Catalog       *dns.Catalog
	Forwarder     *forwarder.Forwarder
	Logger        *logging.Logger
	Version       string
}

// New creates a new API server
func New(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	st := cfg.Storage
	if st == nil {
		st = storage.NewNoOpStorage()
	}

	s := &Server{
		logger:    logger.Component("api"),
		store:     cfg.Store,
		queue:     cfg.Queue,
		writer:    cfg.Writer,
		storage:   st,
		catalog:   cfg.Catalog,
		forwarder: cfg.Forwarder,
		version:   cfg.Version,
		startTime: time.Now(),
	}
	s.ApplyConfig(cfg.Auth)

	mux := http.NewServeMux()

	// Health checks
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	// Override zone
	mux.HandleFunc("GET /api/records", s.handleListRecords)
	mux.HandleFunc("POST /api/records", s.handleAddRecord)
	mux.HandleFunc("PUT /api/records", s.handleReplaceRecords)
	mux.HandleFunc("GET /api/records/{name}/{type}", s.handleGetRecordSet)
	mux.HandleFunc("DELETE /api/records/{name}/{type}", s.handleRemoveRecordSet)
	mux.HandleFunc("GET /api/zones", s.handleZones)

	// Journal
	mux.HandleFunc("GET /api/mutations", s.handleMutations)
	mux.HandleFunc("GET /api/queries", s.handleQueries)

	handler := s.authMiddleware(mux)
	handler = s.rateLimitMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.corsMiddleware(handler)

	s.handler = handler
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ApplyConfig swaps credentials and rate limits; used on config reload
func (s *Server) ApplyConfig(cfg config.APIConfig) {
	header := cfg.AuthHeader
	if header == "" {
		header = "Authorization"
	}

	s.authMu.Lock()
	s.apiKey = cfg.APIKey
	s.authHeader = header
	s.basicUser = cfg.BasicUser
	s.passwordHash = cfg.PasswordHash
	s.authEnabled = cfg.APIKey != "" || (cfg.BasicUser != "" && cfg.PasswordHash != "")

	next := ratelimit.Config{RequestsPerSecond: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst}
	changed := next != s.limiterCfg || (s.limiter.Load() == nil && next.RequestsPerSecond > 0)
	if changed {
		s.limiterCfg = next
	}
	s.authMu.Unlock()

	if changed {
		old := s.limiter.Swap(ratelimit.NewManager(next))
		old.Stop()
	}
}

// Start binds the listener and serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("API listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("Starting API server", "address", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Addr returns the bound address once Start has run
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown gracefully shuts down the API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	s.limiter.Load().Stop()
	return s.httpServer.Shutdown(ctx)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}

// getUptime returns the server uptime as a string
func (s *Server) getUptime() string {
	uptime := time.Since(s.startTime)

	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
