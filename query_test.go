package lantern

import (
	"strings"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestQueryRequest_EffectiveSQL(t *testing.T) {
	tests := []struct {
		name string
		req  QueryRequest
		want string
	}{
		{
			name: "plain query",
			req:  QueryRequest{SQL: "SELECT 1"},
			want: "SELECT 1",
		},
		{
			name: "trailing semicolon trimmed",
			req:  QueryRequest{SQL: "SELECT 1;"},
			want: "SELECT 1",
		},
		{
			name: "whitespace trimmed",
			req:  QueryRequest{SQL: "  SELECT 1  "},
			want: "SELECT 1",
		},
		{
			name: "page size without page",
			req:  QueryRequest{SQL: "SELECT a FROM t", PageSize: intPtr(50)},
			want: "SELECT * FROM (SELECT a FROM t) LIMIT 50 OFFSET 0",
		},
		{
			name: "page and page size",
			req:  QueryRequest{SQL: "SELECT a FROM t", Page: intPtr(2), PageSize: intPtr(100)},
			want: "SELECT * FROM (SELECT a FROM t) LIMIT 100 OFFSET 200",
		},
		{
			name: "negative page treated as zero",
			req:  QueryRequest{SQL: "SELECT a FROM t", Page: intPtr(-1), PageSize: intPtr(10)},
			want: "SELECT * FROM (SELECT a FROM t) LIMIT 10 OFFSET 0",
		},
		{
			name: "zero page size disables wrapping",
			req:  QueryRequest{SQL: "SELECT a FROM t", PageSize: intPtr(0)},
			want: "SELECT a FROM t",
		},
		{
			name: "semicolon trimmed before wrapping",
			req:  QueryRequest{SQL: "SELECT a FROM t;", PageSize: intPtr(10)},
			want: "SELECT * FROM (SELECT a FROM t) LIMIT 10 OFFSET 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.EffectiveSQL(); got != tt.want {
				t.Errorf("EffectiveSQL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQueryRequest_Validate(t *testing.T) {
	if err := (&QueryRequest{SQL: "SELECT 1"}).Validate(0); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
	if err := (&QueryRequest{SQL: "   "}).Validate(0); err == nil {
		t.Error("blank sql accepted")
	}
	long := strings.Repeat("x", 101)
	if err := (&QueryRequest{SQL: long}).Validate(100); err == nil {
		t.Error("oversized query accepted")
	}
	if err := (&QueryRequest{SQL: long}).Validate(0); err != nil {
		t.Errorf("unlimited length rejected: %v", err)
	}
}

func TestQueryRequest_Options(t *testing.T) {
	req := QueryRequest{
		SQL:      "SELECT 1",
		Database: "logs",
		Timezone: "UTC",
		Timeout:  30,
		QueryID:  "q-1",
	}
	opts := req.Options()
	if opts.Database != "logs" || opts.Timezone != "UTC" || opts.Timeout != 30 || opts.QueryID != "q-1" {
		t.Errorf("Options() = %+v", opts)
	}
}
