package lantern

import (
	"fmt"
	"strings"
)

// QueryRequest is the JSON body accepted by the query endpoints. It is
// created per incoming request and discarded once the response completes.
type QueryRequest struct {
	SQL      string  `json:"sql"`
	Page     *int    `json:"page,omitempty"`
	PageSize *int    `json:"pageSize,omitempty"`
	Timezone string  `json:"timezone,omitempty"`
	Database string  `json:"database,omitempty"`
	Timeout  float64 `json:"timeout,omitempty"`
	QueryID  string  `json:"query_id,omitempty"`
}

// QueryOptions carries per-query settings forwarded to the upstream
// database. The zero value uses the connection defaults.
type QueryOptions struct {
	// Database selects the default database for unqualified table names.
	Database string

	// Timezone sets the session timezone for DateTime rendering.
	Timezone string

	// Timeout is the max execution time in seconds. 0 means no limit.
	Timeout float64

	// QueryID tags the query for tracking and cancellation upstream.
	QueryID string

	// MaxRows bounds unary result collection. Ignored by OpenStream.
	MaxRows int
}

// Options derives the upstream options for this request.
func (r *QueryRequest) Options() QueryOptions {
	return QueryOptions{
		Database: r.Database,
		Timezone: r.Timezone,
		Timeout:  r.Timeout,
		QueryID:  r.QueryID,
	}
}

// EffectiveSQL returns the statement presented to the upstream executor.
// When the caller supplies pagination, the user query is wrapped in an
// outer bounded window so the transcoder never sees pagination at all.
func (r *QueryRequest) EffectiveSQL() string {
	sql := strings.TrimSpace(r.SQL)
	sql = strings.TrimSuffix(sql, ";")

	if r.PageSize == nil || *r.PageSize <= 0 {
		return sql
	}

	page := 0
	if r.Page != nil && *r.Page > 0 {
		page = *r.Page
	}
	return fmt.Sprintf("SELECT * FROM (%s) LIMIT %d OFFSET %d", sql, *r.PageSize, page**r.PageSize)
}

// Validate checks the request against server limits.
func (r *QueryRequest) Validate(maxQueryLen int) error {
	if strings.TrimSpace(r.SQL) == "" {
		return fmt.Errorf("sql is required")
	}
	if maxQueryLen > 0 && len(r.SQL) > maxQueryLen {
		return fmt.Errorf("query exceeds max length (%d)", maxQueryLen)
	}
	return nil
}
