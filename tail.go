package lantern

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// TailConfig configures the WebSocket live tail endpoint.
type TailConfig struct {
	// Interval is how often the tail query is re-run. Default: 2s.
	Interval time.Duration `yaml:"interval"`

	// MaxRows bounds each poll's result. Default: 500.
	MaxRows int `yaml:"max_rows"`

	// PingInterval is how often to ping clients. Default: 30s.
	PingInterval time.Duration `yaml:"ping_interval"`

	// WriteTimeout for WebSocket writes. Default: 10s.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultTailConfig returns default tail configuration.
func DefaultTailConfig() TailConfig {
	return TailConfig{
		Interval:     2 * time.Second,
		MaxRows:      500,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

var tailUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// tailMessage is the JSON format for tail WebSocket messages.
type tailMessage struct {
	Type    string   `json:"type"`
	Columns []Column `json:"columns,omitempty"`
	Rows    []any    `json:"rows,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// handleTail serves GET /ws/tail?sql=...: re-runs the query on an interval
// and pushes each result over the socket. The client closing the
// connection cancels the poll loop.
func (s *Server) handleTail(w http.ResponseWriter, r *http.Request) {
	sql := r.URL.Query().Get("sql")
	if sql == "" {
		writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "sql is required"})
		return
	}

	cfg := s.config.Tail
	if cfg.Interval <= 0 {
		cfg = DefaultTailConfig()
	}
	interval := cfg.Interval
	if v := r.URL.Query().Get("interval"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= time.Second {
			interval = d
		}
	}

	conn, err := tailUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client messages; a read error means the client went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	pinger := time.NewTicker(cfg.PingInterval)
	defer pinger.Stop()

	send := func(msg tailMessage) error {
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	poll := func() error {
		result, err := s.executor.Query(ctx, sql, QueryOptions{
			Database: r.URL.Query().Get("database"),
			MaxRows:  cfg.MaxRows,
		})
		if err != nil {
			return send(tailMessage{Type: "error", Error: err.Error()})
		}
		return send(tailMessage{Type: "rows", Columns: result.Columns, Rows: result.Rows})
	}

	if err := poll(); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-pinger.C:
			_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
			if err := poll(); err != nil {
				slog.Debug("tail push failed", "err", err)
				return
			}
		}
	}
}
