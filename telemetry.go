package lantern

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// TelemetryConfig configures the query-stat publisher.
type TelemetryConfig struct {
	// Endpoint is the Prometheus remote-write URL stats are pushed to.
	Endpoint string `yaml:"endpoint"`

	// Interval is how often samples are pushed. Default: 15s.
	Interval time.Duration `yaml:"interval"`

	// Instance labels the pushed series. Default: "lantern".
	Instance string `yaml:"instance"`
}

// TelemetryPublisher accumulates per-query stats and pushes them as
// Prometheus remote-write samples. Counters are cumulative, matching
// Prometheus counter semantics.
type TelemetryPublisher struct {
	config TelemetryConfig
	client *http.Client

	mu             sync.Mutex
	queriesTotal   float64
	queriesFailed  float64
	rowsStreamed   float64
	elapsedSeconds float64
}

// NewTelemetryPublisher creates a publisher for the configured endpoint.
func NewTelemetryPublisher(cfg TelemetryConfig) *TelemetryPublisher {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Instance == "" {
		cfg.Instance = "lantern"
	}
	return &TelemetryPublisher{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// ObserveQuery records one completed (or failed) query.
func (t *TelemetryPublisher) ObserveQuery(elapsed time.Duration, rows int64, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queriesTotal++
	if failed {
		t.queriesFailed++
	}
	t.rowsStreamed += float64(rows)
	t.elapsedSeconds += elapsed.Seconds()
}

// Run pushes samples until the context is canceled.
func (t *TelemetryPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.push(ctx); err != nil {
				slog.Warn("telemetry push failed", "endpoint", t.config.Endpoint, "err", err)
			}
		}
	}
}

func (t *TelemetryPublisher) snapshot() []prompb.TimeSeries {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UnixMilli()
	series := func(name string, value float64) prompb.TimeSeries {
		return prompb.TimeSeries{
			Labels: []prompb.Label{
				{Name: "__name__", Value: name},
				{Name: "instance", Value: t.config.Instance},
			},
			Samples: []prompb.Sample{{Value: value, Timestamp: now}},
		}
	}
	return []prompb.TimeSeries{
		series("lantern_queries_total", t.queriesTotal),
		series("lantern_queries_failed_total", t.queriesFailed),
		series("lantern_rows_streamed_total", t.rowsStreamed),
		series("lantern_query_seconds_total", t.elapsedSeconds),
	}
}

// push marshals the current counters and remote-writes them.
func (t *TelemetryPublisher) push(ctx context.Context) error {
	req := prompb.WriteRequest{Timeseries: t.snapshot()}
	raw, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("marshal write request: %w", err)
	}
	compressed := snappy.Encode(nil, raw)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, bytes.NewReader(compressed))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("remote write rejected: %s: %s", resp.Status, string(body))
	}
	return nil
}
