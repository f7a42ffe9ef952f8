package lantern

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

func TestTelemetryPublisher_Push(t *testing.T) {
	var received prompb.WriteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/x-protobuf" {
			t.Errorf("content type = %q", ct)
		}
		if ce := r.Header.Get("Content-Encoding"); ce != "snappy" {
			t.Errorf("content encoding = %q", ce)
		}
		body, _ := io.ReadAll(r.Body)
		raw, err := snappy.Decode(nil, body)
		if err != nil {
			t.Errorf("snappy decode: %v", err)
			return
		}
		if err := received.Unmarshal(raw); err != nil {
			t.Errorf("proto unmarshal: %v", err)
		}
	}))
	defer srv.Close()

	pub := NewTelemetryPublisher(TelemetryConfig{Endpoint: srv.URL, Instance: "test"})
	pub.ObserveQuery(250*time.Millisecond, 1200, false)
	pub.ObserveQuery(100*time.Millisecond, 0, true)

	if err := pub.push(context.Background()); err != nil {
		t.Fatalf("push: %v", err)
	}

	if len(received.Timeseries) != 4 {
		t.Fatalf("series = %d, want 4", len(received.Timeseries))
	}
	byName := make(map[string]float64)
	for _, ts := range received.Timeseries {
		var name, instance string
		for _, l := range ts.Labels {
			switch l.Name {
			case "__name__":
				name = l.Value
			case "instance":
				instance = l.Value
			}
		}
		if instance != "test" {
			t.Errorf("series %q instance = %q", name, instance)
		}
		if len(ts.Samples) != 1 {
			t.Fatalf("series %q samples = %d", name, len(ts.Samples))
		}
		byName[name] = ts.Samples[0].Value
	}

	if byName["lantern_queries_total"] != 2 {
		t.Errorf("queries_total = %v", byName["lantern_queries_total"])
	}
	if byName["lantern_queries_failed_total"] != 1 {
		t.Errorf("queries_failed_total = %v", byName["lantern_queries_failed_total"])
	}
	if byName["lantern_rows_streamed_total"] != 1200 {
		t.Errorf("rows_streamed_total = %v", byName["lantern_rows_streamed_total"])
	}
}

func TestTelemetryPublisher_PushRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	pub := NewTelemetryPublisher(TelemetryConfig{Endpoint: srv.URL})
	if err := pub.push(context.Background()); err == nil {
		t.Error("rejected push reported as success")
	}
}

func TestNewTelemetryPublisher_Defaults(t *testing.T) {
	pub := NewTelemetryPublisher(TelemetryConfig{Endpoint: "http://x"})
	if pub.config.Interval != 15*time.Second {
		t.Errorf("interval = %v", pub.config.Interval)
	}
	if pub.config.Instance != "lantern" {
		t.Errorf("instance = %q", pub.config.Instance)
	}
}
