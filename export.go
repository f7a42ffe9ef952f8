package lantern

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/golang/snappy"
)

// ExportConfig configures query result export to S3-compatible storage.
type ExportConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // For S3-compatible services (MinIO, etc.)
	// AccessKeyID for authentication. Prefer using IAM roles, instance
	// profiles, or environment variables (AWS_ACCESS_KEY_ID,
	// AWS_SECRET_ACCESS_KEY) instead of setting these directly.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`         // Key prefix for all objects
	UsePathStyle    bool   `yaml:"use_path_style"` // Use path-style addressing

	// Compress snappy-compresses exported objects.
	Compress bool `yaml:"compress"`

	// MaxRows caps the rows written per export. Default: 500,000.
	MaxRows int64 `yaml:"max_rows"`

	// MaxRetries is the max retry attempts for uploads (default: 3).
	MaxRetries int `yaml:"max_retries"`
}

// Exporter runs a query and writes the framed NDJSON result to object
// storage. It reuses the stream transcoder, so exported objects carry the
// exact frame protocol a streaming client would have received.
type Exporter struct {
	client   *s3.Client
	config   ExportConfig
	executor QueryExecutor
	retryer  *Retryer
}

// NewExporter creates an exporter for the configured bucket.
func NewExporter(cfg ExportConfig, executor QueryExecutor) (*Exporter, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 500000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &Exporter{
		client:   s3.NewFromConfig(awsCfg, s3Opts...),
		config:   cfg,
		executor: executor,
		retryer: NewRetryer(RetryConfig{
			MaxAttempts:       cfg.MaxRetries,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
			RetryIf:           isRetryable,
		}),
	}, nil
}

// bufferSink collects frames as NDJSON in memory.
type bufferSink struct {
	buf bytes.Buffer
	enc *json.Encoder
}

func newBufferSink() *bufferSink {
	s := &bufferSink{}
	s.enc = json.NewEncoder(&s.buf)
	return s
}

func (s *bufferSink) WriteFrame(frame any) error {
	return s.enc.Encode(frame)
}

// ExportResult reports one completed export.
type ExportResult struct {
	Key          string `json:"key"`
	Rows         int64  `json:"rows"`
	Bytes        int    `json:"bytes"`
	Compressed   bool   `json:"compressed"`
	LimitReached bool   `json:"limit_reached"`
}

// Export runs the statement and uploads the framed result under key.
func (e *Exporter) Export(ctx context.Context, sql string, opts QueryOptions, key string) (*ExportResult, error) {
	src, err := e.executor.OpenStream(ctx, sql, opts)
	if err != nil {
		return nil, err
	}

	sink := newBufferSink()
	tc := NewTranscoder(TranscoderConfig{MaxRows: e.config.MaxRows})
	if err := tc.Run(ctx, src, sink); err != nil {
		return nil, err
	}

	payload := sink.buf.Bytes()
	contentType := "application/x-ndjson"
	if e.config.Compress {
		payload = snappy.Encode(nil, payload)
		contentType = "application/octet-stream"
		key += ".snappy"
	}

	fullKey := e.config.Prefix + key
	uploadErr := e.retryer.Do(ctx, func() error {
		_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(e.config.Bucket),
			Key:         aws.String(fullKey),
			Body:        bytes.NewReader(payload),
			ContentType: aws.String(contentType),
		})
		return err
	})
	if uploadErr != nil {
		return nil, fmt.Errorf("export upload failed: %w", uploadErr)
	}

	return &ExportResult{
		Key:          fullKey,
		Rows:         tc.Rows(),
		Bytes:        len(payload),
		Compressed:   e.config.Compress,
		LimitReached: tc.LimitReached(),
	}, nil
}

type exportRequest struct {
	SQL      string `json:"sql"`
	Key      string `json:"key,omitempty"`
	Database string `json:"database,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// handleExport serves POST /api/export.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, errorBody{Error: "export not configured"})
		return
	}
	if r.Method != http.MethodPost {
		writeJSONStatus(w, http.StatusMethodNotAllowed, errorBody{Error: "POST required"})
		return
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "sql is required"})
		return
	}
	key := req.Key
	if key == "" {
		key = fmt.Sprintf("export-%s.ndjson", time.Now().UTC().Format("20060102-150405"))
	}

	result, err := s.exporter.Export(r.Context(), req.SQL, QueryOptions{
		Database: req.Database,
		Timezone: req.Timezone,
	}, key)
	if err != nil {
		writeJSONStatus(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}

	slog.Info("export finished", "key", result.Key, "rows", result.Rows, "bytes", result.Bytes)
	writeJSONStatus(w, http.StatusCreated, result)
}
