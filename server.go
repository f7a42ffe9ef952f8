package lantern

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server ties together the upstream executor, the workspace store and the
// HTTP surface.
type Server struct {
	config    Config
	executor  QueryExecutor
	store     *Store
	sealer    *CredentialSealer
	exporter  *Exporter
	telemetry *TelemetryPublisher
	mux       *http.ServeMux
	srv       *http.Server
	cancel    context.CancelFunc
}

// NewServer builds a server from configuration: ClickHouse client, SQLite
// workspace store, optional exporter and telemetry publisher.
func NewServer(cfg Config) (*Server, error) {
	s := &Server{
		config:   cfg,
		executor: NewClickHouseClient(cfg.Upstream),
	}

	if cfg.Workspace.Path != "" {
		store, err := OpenStore(StoreConfig{Path: cfg.Workspace.Path})
		if err != nil {
			return nil, fmt.Errorf("open workspace store: %w", err)
		}
		s.store = store
	}

	if cfg.Workspace.Secret != "" {
		sealer, err := NewCredentialSealer(cfg.Workspace.Secret)
		if err != nil {
			return nil, fmt.Errorf("credential sealer: %w", err)
		}
		s.sealer = sealer
	}

	if cfg.Export != nil {
		exporter, err := NewExporter(*cfg.Export, s.executor)
		if err != nil {
			return nil, fmt.Errorf("exporter: %w", err)
		}
		s.exporter = exporter
	}

	if cfg.Telemetry != nil && cfg.Telemetry.Endpoint != "" {
		s.telemetry = NewTelemetryPublisher(*cfg.Telemetry)
	}

	s.mux = http.NewServeMux()
	s.setupRoutes()
	return s, nil
}

// NewServerWithExecutor builds a server around an existing executor.
// Used by tests and embedders that manage their own upstream client.
func NewServerWithExecutor(cfg Config, executor QueryExecutor) *Server {
	s := &Server{
		config:   cfg,
		executor: executor,
		mux:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	auth := newAuthenticator(s.config.Auth)
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return authMiddleware(auth, h)
	}
	if s.config.RateLimitPerSecond > 0 {
		rl := newRateLimiter(s.config.RateLimitPerSecond, time.Second)
		inner := wrap
		wrap = func(h http.HandlerFunc) http.HandlerFunc {
			return rateLimitMiddleware(rl, inner(h))
		}
	}

	s.mux.HandleFunc("/api/query", wrap(s.handleStreamQuery))
	s.mux.HandleFunc("/api/console/query", wrap(s.handleConsoleQuery))
	s.mux.HandleFunc("/api/logs", wrap(s.handleLogs))
	s.mux.HandleFunc("/api/logs/tables", wrap(s.handleLogTables))
	s.mux.HandleFunc("/api/connections", wrap(s.handleConnections))
	s.mux.HandleFunc("/api/dashboards", wrap(s.handleDashboards))
	s.mux.HandleFunc("/api/queries", wrap(s.handleSavedQueries))
	s.mux.HandleFunc("/api/settings", wrap(s.handleSettings))
	s.mux.HandleFunc("/api/export", wrap(s.handleExport))
	s.mux.HandleFunc("/ws/tail", wrap(s.handleTail))
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/", s.handleConsolePage)
}

// Handler returns the HTTP handler for embedding in existing servers.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// ListenAndServe starts the HTTP server and, when configured, the
// telemetry publisher. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if s.telemetry != nil {
		go s.telemetry.Run(ctx)
	}

	s.srv = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: streamed responses are long-lived.
		IdleTimeout: 120 * time.Second,
	}
	slog.Info("lantern listening", "addr", s.config.Listen, "upstream", s.config.Upstream.URL)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server and closes the workspace store.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}
	if s.store != nil {
		if cerr := s.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// observeQuery feeds the telemetry publisher when one is configured.
func (s *Server) observeQuery(elapsed time.Duration, rows int64, failed bool) {
	if s.telemetry == nil {
		return
	}
	s.telemetry.ObserveQuery(elapsed, rows, failed)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if !s.config.EnableCORS {
		return next
	}
	allowed := s.config.AllowedOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, o := range allowed {
			if o == origin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
