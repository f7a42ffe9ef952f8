package lantern

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHasFormatClause(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", false},
		{"SELECT 1 FORMAT JSON", true},
		{"SELECT 1 format TabSeparated", true},
		{"SELECT 1 FORMAT JSONCompactEachRowWithNamesAndTypes;", true},
		{"SELECT format FROM t", false},
		{"SELECT 1 FORMAT JSON\n", true},
	}
	for _, tt := range tests {
		if got := hasFormatClause(tt.sql); got != tt.want {
			t.Errorf("hasFormatClause(%q) = %v, want %v", tt.sql, got, tt.want)
		}
	}
}

func TestClickHouseClient_QueryURL(t *testing.T) {
	c := NewClickHouseClient(UpstreamConfig{URL: "http://db:8123", Database: "default"})
	got, err := c.queryURL(QueryOptions{
		Database: "logs",
		Timezone: "America/New_York",
		Timeout:  30,
		QueryID:  "q-1",
	})
	if err != nil {
		t.Fatalf("queryURL: %v", err)
	}
	for _, part := range []string{"database=logs", "session_timezone=America%2FNew_York", "max_execution_time=30", "query_id=q-1"} {
		if !strings.Contains(got, part) {
			t.Errorf("url %q missing %q", got, part)
		}
	}

	// Connection default database applies when the query sets none.
	got, err = c.queryURL(QueryOptions{})
	if err != nil {
		t.Fatalf("queryURL: %v", err)
	}
	if !strings.Contains(got, "database=default") {
		t.Errorf("url %q missing connection default database", got)
	}
}

func TestClickHouseClient_OpenStream(t *testing.T) {
	var gotBody string
	var gotUser, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotUser = r.Header.Get("X-ClickHouse-User")
		gotKey = r.Header.Get("X-ClickHouse-Key")
		_, _ = io.WriteString(w, "[\"id\",\"name\"]\n[\"UInt64\",\"String\"]\n[1,\"a\"]\n[2,\"b\"]\n")
	}))
	defer srv.Close()

	c := NewClickHouseClient(UpstreamConfig{URL: srv.URL, Username: "admin", Password: "secret"})
	src, err := c.OpenStream(context.Background(), "SELECT id, name FROM t", QueryOptions{})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer func() { _ = src.Close() }()

	if !strings.HasSuffix(gotBody, "FORMAT "+streamFormat) {
		t.Errorf("statement = %q, want FORMAT clause appended", gotBody)
	}
	if gotUser != "admin" || gotKey != "secret" {
		t.Errorf("auth headers = %q/%q", gotUser, gotKey)
	}

	ctx := context.Background()
	var batches []any
	for {
		item, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		batches = append(batches, item)
	}
	if len(batches) != 4 {
		t.Fatalf("batches = %d, want 4 (names, types, 2 rows)", len(batches))
	}
	names := stringList(batches[0])
	if len(names) != 2 || names[0] != "id" {
		t.Errorf("names = %v", names)
	}
	row := batches[2].([]any)
	if row[0].(float64) != 1 || row[1].(string) != "a" {
		t.Errorf("first row = %v", row)
	}
}

func TestClickHouseClient_OpenStreamKeepsExplicitFormat(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer srv.Close()

	c := NewClickHouseClient(UpstreamConfig{URL: srv.URL})
	src, err := c.OpenStream(context.Background(), "SELECT 1 FORMAT JSONCompactEachRowWithNamesAndTypes", QueryOptions{})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	_ = src.Close()

	if strings.Count(gotBody, "FORMAT") != 1 {
		t.Errorf("statement = %q, want exactly one FORMAT clause", gotBody)
	}
}

func TestClickHouseClient_OpenStreamQueryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "Code: 62. DB::Exception: Syntax error")
	}))
	defer srv.Close()

	c := NewClickHouseClient(UpstreamConfig{URL: srv.URL})
	_, err := c.OpenStream(context.Background(), "SELEC 1", QueryOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrUpstreamQuery) {
		t.Errorf("err = %v, want upstream query error", err)
	}
	if !strings.Contains(err.Error(), "Syntax error") {
		t.Errorf("err = %v, want upstream message preserved", err)
	}
}

func TestClickHouseClient_OpenStreamTransportError(t *testing.T) {
	c := NewClickHouseClient(UpstreamConfig{URL: "http://127.0.0.1:1"})
	_, err := c.OpenStream(context.Background(), "SELECT 1", QueryOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrUpstreamTransport) {
		t.Errorf("err = %v, want upstream transport error", err)
	}
}

func TestRowStream_ExceptionTextMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "[\"n\"]\n[\"UInt8\"]\n[1]\nCode: 241. DB::Exception: Memory limit exceeded\n")
	}))
	defer srv.Close()

	c := NewClickHouseClient(UpstreamConfig{URL: srv.URL})
	src, err := c.OpenStream(context.Background(), "SELECT n FROM t", QueryOptions{})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer func() { _ = src.Close() }()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := src.Next(ctx); err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
	}
	_, err = src.Next(ctx)
	if err == nil || err == io.EOF {
		t.Fatal("expected mid-stream error")
	}
	if !errors.Is(err, ErrUpstreamQuery) {
		t.Errorf("err = %v, want upstream query error", err)
	}
	if !strings.Contains(err.Error(), "Memory limit exceeded") {
		t.Errorf("err = %v, want exception text preserved", err)
	}
}

func TestRowStream_SkipsBlankLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "[\"n\"]\n\n[\"UInt8\"]\n\n[1]\n\n")
	}))
	defer srv.Close()

	c := NewClickHouseClient(UpstreamConfig{URL: srv.URL})
	src, err := c.OpenStream(context.Background(), "SELECT n FROM t", QueryOptions{})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer func() { _ = src.Close() }()

	ctx := context.Background()
	count := 0
	for {
		_, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		count++
	}
	if count != 3 {
		t.Errorf("batches = %d, want 3", count)
	}
}

func TestClickHouseClient_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "[\"id\",\"name\"]\n[\"UInt64\",\"String\"]\n[1,\"a\"]\n[2,\"b\"]\n[3,\"c\"]\n")
	}))
	defer srv.Close()

	c := NewClickHouseClient(UpstreamConfig{URL: srv.URL})
	result, err := c.Query(context.Background(), "SELECT id, name FROM t", QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0].Name != "id" || result.Columns[1].Type != "String" {
		t.Errorf("columns = %v", result.Columns)
	}
	if len(result.Rows) != 3 {
		t.Errorf("rows = %d, want 3", len(result.Rows))
	}
}

func TestClickHouseClient_QueryMaxRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "[\"n\"]\n[\"UInt8\"]\n[1]\n[2]\n[3]\n[4]\n[5]\n")
	}))
	defer srv.Close()

	c := NewClickHouseClient(UpstreamConfig{URL: srv.URL})
	result, err := c.Query(context.Background(), "SELECT n FROM t", QueryOptions{MaxRows: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Errorf("rows = %d, want 2", len(result.Rows))
	}
}
