package lantern

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// streamFormat is the upstream output format the transcoder is built
// around: one JSON array per line, column names first, then types.
const streamFormat = "JSONCompactEachRowWithNamesAndTypes"

// maxScanTokenSize bounds a single upstream result line (16MB).
const maxScanTokenSize = 16 * 1024 * 1024

// UpstreamConfig configures the connection to the analytical database.
type UpstreamConfig struct {
	// URL is the base HTTP endpoint, e.g. "http://localhost:8123".
	URL string `yaml:"url"`

	// Username and Password authenticate against the database.
	// Prefer environment variables or the connection store over
	// committing credentials to a config file.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Database is the default database for unqualified table names.
	Database string `yaml:"database"`

	// Timeout bounds unary requests. Streamed queries are bounded by the
	// caller's context instead. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// ClickHouseClient executes queries over the database's HTTP interface.
type ClickHouseClient struct {
	config UpstreamConfig
	client *http.Client
	stream *http.Client
}

// NewClickHouseClient creates a client for the given endpoint.
func NewClickHouseClient(cfg UpstreamConfig) *ClickHouseClient {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:8123"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ClickHouseClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		// No client timeout on the streaming path: a long-running query
		// is legitimate and cancellation comes from the request context.
		stream: &http.Client{},
	}
}

var formatClausePattern = regexp.MustCompile(`(?i)\bFORMAT\s+\w+\s*;?\s*$`)

// hasFormatClause reports whether the statement already carries an
// explicit FORMAT clause.
func hasFormatClause(sql string) bool {
	return formatClausePattern.MatchString(strings.TrimSpace(sql))
}

// queryURL builds the endpoint URL with per-query settings.
func (c *ClickHouseClient) queryURL(opts QueryOptions) (string, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", fmt.Errorf("invalid upstream URL: %w", err)
	}

	q := u.Query()
	db := opts.Database
	if db == "" {
		db = c.config.Database
	}
	if db != "" {
		q.Set("database", db)
	}
	if opts.Timezone != "" {
		q.Set("session_timezone", opts.Timezone)
	}
	if opts.Timeout > 0 {
		q.Set("max_execution_time", strconv.FormatFloat(opts.Timeout, 'f', -1, 64))
	}
	if opts.QueryID != "" {
		q.Set("query_id", opts.QueryID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// OpenStream submits the query and returns a streaming cursor over the
// response: the first batch is the column-name list, the second the
// column-type list, then data rows, one decoded JSON line per batch.
func (c *ClickHouseClient) OpenStream(ctx context.Context, sql string, opts QueryOptions) (RowSource, error) {
	stmt := strings.TrimSpace(sql)
	stmt = strings.TrimSuffix(stmt, ";")
	if !hasFormatClause(stmt) {
		stmt = stmt + " FORMAT " + streamFormat
	}

	endpoint, err := c.queryURL(opts)
	if err != nil {
		return nil, newStreamError(StreamErrorTypeQuery, "bad query options", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(stmt))
	if err != nil {
		return nil, newStreamError(StreamErrorTypeTransport, "request build failed", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	c.setAuth(req)

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, newStreamError(StreamErrorTypeTransport, "upstream unreachable", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return nil, newStreamError(StreamErrorTypeQuery, msg, nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)
	return &rowStream{body: resp.Body, scanner: scanner}, nil
}

func (c *ClickHouseClient) setAuth(req *http.Request) {
	if c.config.Username != "" {
		req.Header.Set("X-ClickHouse-User", c.config.Username)
	}
	if c.config.Password != "" {
		req.Header.Set("X-ClickHouse-Key", c.config.Password)
	}
}

// rowStream reads the line-delimited response body as a batch sequence.
type rowStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
}

// Next returns the next decoded line, io.EOF at the end of the result.
// The database appends exception text to the body when a query fails
// mid-stream; such a line does not decode as JSON and is surfaced as an
// upstream query error carrying that text.
func (s *rowStream) Next(ctx context.Context) (any, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, newStreamError(StreamErrorTypeTransport, "upstream read failed", err)
			}
			return nil, io.EOF
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		var item any
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			return nil, newStreamError(StreamErrorTypeQuery, line, nil)
		}
		return item, nil
	}
}

func (s *rowStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// QueryResult is a fully collected unary result used by the thin
// request/response surfaces (console, log browsing, live tail).
type QueryResult struct {
	Columns []Column `json:"columns"`
	Rows    []any    `json:"rows"`
	Elapsed float64  `json:"elapsed"`
}

// Query runs the statement and collects up to opts.MaxRows rows in memory.
// The streaming path never goes through here.
func (c *ClickHouseClient) Query(ctx context.Context, sql string, opts QueryOptions) (*QueryResult, error) {
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = 10000
	}

	started := time.Now()
	src, err := c.OpenStream(ctx, sql, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	result := &QueryResult{Rows: []any{}}
	var names, types []string
	batch := 0
	for {
		item, err := src.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		switch batch {
		case 0:
			names = stringList(item)
		case 1:
			types = stringList(item)
		default:
			result.Rows = append(result.Rows, item)
		}
		batch++
		if len(result.Rows) >= maxRows {
			break
		}
	}

	result.Columns = zipSchema(names, types)
	result.Elapsed = time.Since(started).Seconds()
	return result, nil
}

// Ping checks upstream availability.
func (c *ClickHouseClient) Ping(ctx context.Context) error {
	_, err := c.Query(ctx, "SELECT 1", QueryOptions{MaxRows: 1})
	return err
}
