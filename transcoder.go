package lantern

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"
)

// RowSource is a streaming cursor over an upstream query result. The first
// item is the column-name list, the second is the column-type list, and all
// subsequent items are data rows positionally aligned to those two lists.
// Next returns io.EOF once the result set is exhausted.
type RowSource interface {
	Next(ctx context.Context) (any, error)
	Close() error
}

// FrameSink is the delivery channel frames are written into. WriteFrame
// blocks while the channel is at capacity, which is how backpressure from a
// slow client reaches the transcoding loop.
type FrameSink interface {
	WriteFrame(frame any) error
}

// Column describes one output column of a result set.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Statistics summarizes a completed stream.
type Statistics struct {
	Elapsed   float64 `json:"elapsed"`
	RowsRead  int64   `json:"rows_read"`
	BytesRead int64   `json:"bytes_read"`
}

// Frame shapes of the outbound protocol, one JSON object per line.
type metaFrame struct {
	Type string   `json:"type"`
	Data []Column `json:"data"`
	Rows int      `json:"rows"`
}

type dataFrame struct {
	Type      string `json:"type"`
	Data      []any  `json:"data"`
	RowsCount int64  `json:"rows_count"`
}

type progressFrame struct {
	Type     string `json:"type"`
	RowsRead int64  `json:"rows_read"`
}

type doneFrame struct {
	Type         string     `json:"type"`
	LimitReached bool       `json:"limit_reached"`
	Statistics   Statistics `json:"statistics"`
}

type errorFrame struct {
	Type  string       `json:"type"`
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// transcodeState tracks where the transcoder is in the upstream sequence.
type transcodeState int

const (
	stateAwaitingNames transcodeState = iota
	stateAwaitingTypes
	stateStreaming
	stateTerminated
)

// TranscoderConfig configures one streamed query.
type TranscoderConfig struct {
	// MaxRows is the hard ceiling on rows streamed per request.
	// Default: 500,000.
	MaxRows int64

	// ProgressInterval is how many rows between progress heartbeats.
	// Default: 1000.
	ProgressInterval int64
}

// DefaultTranscoderConfig returns the default transcoder settings.
func DefaultTranscoderConfig() TranscoderConfig {
	return TranscoderConfig{
		MaxRows:          500000,
		ProgressInterval: 1000,
	}
}

// Transcoder converts the upstream schema-then-rows stream into the framed
// output protocol under a hard row bound. One instance serves exactly one
// request; nothing is shared across requests.
type Transcoder struct {
	config       TranscoderConfig
	state        transcodeState
	names        []string
	schema       []Column
	rows         int64
	limitReached bool
	started      time.Time
}

// NewTranscoder creates a transcoder for a single request.
func NewTranscoder(cfg TranscoderConfig) *Transcoder {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 500000
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 1000
	}
	return &Transcoder{config: cfg, state: stateAwaitingNames}
}

// Rows returns the number of rows emitted in data frames so far.
func (t *Transcoder) Rows() int64 {
	return t.rows
}

// LimitReached reports whether streaming stopped early at the row cap.
func (t *Transcoder) LimitReached() bool {
	return t.limitReached
}

// Schema returns the column metadata once the meta frame has been emitted.
func (t *Transcoder) Schema() []Column {
	return t.schema
}

// Run consumes the source until exhaustion, cap, cancellation or failure,
// writing frames to the sink. Exactly one terminal frame is produced: a
// done frame on success, an error frame on upstream failure. Sink failures
// abort without further frames. The source is always closed on return, so
// the upstream cursor is released even when the client goes away.
func (t *Transcoder) Run(ctx context.Context, src RowSource, sink FrameSink) error {
	t.started = time.Now()
	defer func() {
		_ = src.Close()
		t.state = stateTerminated
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// Upstream failed mid-stream: report in-band, then stop.
			_ = sink.WriteFrame(errorFrame{Type: "error", Error: errorPayload{Message: err.Error()}})
			return err
		}

		item = normalizeItem(item)

		switch t.state {
		case stateAwaitingNames:
			t.names = stringList(item)
			t.state = stateAwaitingTypes

		case stateAwaitingTypes:
			t.schema = zipSchema(t.names, stringList(item))
			if err := t.writeMeta(sink); err != nil {
				return err
			}
			t.state = stateStreaming

		case stateStreaming:
			if t.rows >= t.config.MaxRows {
				// Cap hit: stop pulling, do not drain the remainder.
				t.limitReached = true
				return t.writeDone(sink)
			}
			t.rows++
			if err := sink.WriteFrame(dataFrame{Type: "data", Data: []any{item}, RowsCount: t.rows}); err != nil {
				return newStreamError(StreamErrorTypeSink, "data frame write failed", err)
			}
			if t.rows%t.config.ProgressInterval == 0 {
				if err := sink.WriteFrame(progressFrame{Type: "progress", RowsRead: t.rows}); err != nil {
					return newStreamError(StreamErrorTypeSink, "progress frame write failed", err)
				}
			}
		}
	}

	// An upstream that ends before the names/types pair still produces a
	// well-formed stream: empty meta, then done.
	if t.state != stateStreaming {
		if err := t.writeMeta(sink); err != nil {
			return err
		}
	}
	return t.writeDone(sink)
}

func (t *Transcoder) writeMeta(sink FrameSink) error {
	schema := t.schema
	if schema == nil {
		schema = []Column{}
	}
	if err := sink.WriteFrame(metaFrame{Type: "meta", Data: schema, Rows: 0}); err != nil {
		return newStreamError(StreamErrorTypeSink, "meta frame write failed", err)
	}
	return nil
}

func (t *Transcoder) writeDone(sink FrameSink) error {
	frame := doneFrame{
		Type:         "done",
		LimitReached: t.limitReached,
		Statistics: Statistics{
			Elapsed:  time.Since(t.started).Seconds(),
			RowsRead: t.rows,
		},
	}
	if err := sink.WriteFrame(frame); err != nil {
		return newStreamError(StreamErrorTypeSink, "done frame write failed", err)
	}
	return nil
}

// normalizeItem unwraps the text envelope some upstream transports put
// around rows: an object whose "text" field holds the row as a JSON string.
// It never fails; anything that does not match the envelope, including a
// text field that is not valid JSON, passes through unchanged.
func normalizeItem(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	raw, ok := m["text"].(string)
	if !ok {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return v
	}
	return decoded
}

// stringList coerces a decoded JSON array into a string slice. Non-string
// elements are rendered through their JSON form rather than dropped, so a
// malformed header batch still yields positionally correct metadata.
func stringList(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s, ok := it.(string); ok {
				out = append(out, s)
				continue
			}
			b, err := json.Marshal(it)
			if err != nil {
				out = append(out, "")
				continue
			}
			out = append(out, string(b))
		}
		return out
	default:
		return nil
	}
}

// zipSchema pairs names with types positionally. Names drive the column
// count; a missing type becomes an empty string.
func zipSchema(names, types []string) []Column {
	schema := make([]Column, len(names))
	for i, name := range names {
		col := Column{Name: name}
		if i < len(types) {
			col.Type = types[i]
		}
		schema[i] = col
	}
	return schema
}
