package lantern

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// QueryExecutor provides query execution against the upstream database.
// This interface allows HTTP handlers to be tested independently of a
// running ClickHouse instance.
type QueryExecutor interface {
	OpenStream(ctx context.Context, sql string, opts QueryOptions) (RowSource, error)
	Query(ctx context.Context, sql string, opts QueryOptions) (*QueryResult, error)
}

// Ensure the ClickHouse client satisfies the executor interface.
var _ QueryExecutor = (*ClickHouseClient)(nil)

// httpSink delivers frames to the chunked HTTP response through a bounded
// channel. A dedicated writer goroutine drains the channel onto the
// connection and flushes after every frame; WriteFrame blocks once the
// channel is full, which is the backpressure applied to the transcoding
// loop when the client reads slowly.
type httpSink struct {
	frames chan any
	done   chan struct{}
	err    error
}

// newHTTPSink starts the writer goroutine. flush may be nil.
func newHTTPSink(w io.Writer, flush func(), bufferSize int) *httpSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &httpSink{
		frames: make(chan any, bufferSize),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		enc := json.NewEncoder(w)
		for frame := range s.frames {
			if err := enc.Encode(frame); err != nil {
				s.err = err
				return
			}
			if flush != nil {
				flush()
			}
		}
	}()
	return s
}

// WriteFrame queues one frame for delivery. It fails once the connection
// writer has died (client disconnect).
func (s *httpSink) WriteFrame(frame any) error {
	select {
	case <-s.done:
		return s.sinkErr()
	default:
	}
	select {
	case s.frames <- frame:
		return nil
	case <-s.done:
		return s.sinkErr()
	}
}

// Close flushes queued frames and waits for the writer to finish.
func (s *httpSink) Close() error {
	close(s.frames)
	<-s.done
	return s.err
}

func (s *httpSink) sinkErr() error {
	if s.err != nil {
		return s.err
	}
	return ErrSinkClosed
}

// handleStreamQuery serves POST /api/query: the streaming transcode path.
// Headers go out before the upstream is opened, so every failure after
// that point is reported in-band as an error frame on a 200 response.
func (s *Server) handleStreamQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONStatus(w, http.StatusMethodNotAllowed, errorBody{Error: "POST required"})
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := req.Validate(s.config.Query.MaxQueryLen); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	sink := newHTTPSink(w, flush, s.config.Stream.BufferSize)

	started := time.Now()
	tc := NewTranscoder(TranscoderConfig{MaxRows: s.config.Query.MaxResultRows})

	src, err := s.executor.OpenStream(r.Context(), req.EffectiveSQL(), req.Options())
	if err != nil {
		_ = sink.WriteFrame(errorFrame{Type: "error", Error: errorPayload{Message: err.Error()}})
		_ = sink.Close()
		slog.Warn("query stream failed to open",
			"query_id", req.QueryID, "err", err)
		s.observeQuery(time.Since(started), 0, true)
		return
	}

	runErr := tc.Run(r.Context(), src, sink)
	if err := sink.Close(); err != nil && runErr == nil {
		runErr = err
	}

	if runErr != nil {
		slog.Warn("query stream terminated",
			"query_id", req.QueryID,
			"rows", tc.Rows(),
			"elapsed", time.Since(started),
			"err", runErr)
	} else {
		slog.Info("query stream finished",
			"query_id", req.QueryID,
			"rows", tc.Rows(),
			"limit_reached", tc.LimitReached(),
			"elapsed", time.Since(started))
	}
	s.observeQuery(time.Since(started), tc.Rows(), runErr != nil)
}

// errorBody is the JSON error shape for non-streamed responses.
type errorBody struct {
	Error string `json:"error"`
}
