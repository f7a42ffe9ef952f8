package lantern

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Log browsing: thin SQL wrappers over upstream tables. No parsing or
// state here, just identifier quoting and a bounded SELECT.

const defaultLogLimit = 100

// quoteIdent wraps an identifier in backticks, ClickHouse style.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

// handleLogTables serves GET /api/logs/tables: tables available for
// browsing in the selected database.
func (s *Server) handleLogTables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONStatus(w, http.StatusMethodNotAllowed, errorBody{Error: "GET required"})
		return
	}

	db := r.URL.Query().Get("database")
	sql := "SELECT database, name, engine FROM system.tables WHERE database NOT IN ('system', 'INFORMATION_SCHEMA', 'information_schema') ORDER BY database, name"
	if db != "" {
		sql = fmt.Sprintf("SELECT database, name, engine FROM system.tables WHERE database = '%s' ORDER BY name",
			strings.ReplaceAll(db, "'", "\\'"))
	}

	result, err := s.executor.Query(r.Context(), sql, QueryOptions{MaxRows: 1000})
	if err != nil {
		writeJSONStatus(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, result)
}

// handleLogs serves GET /api/logs: a bounded window over one table,
// optionally ordered by a column (descending, newest first).
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONStatus(w, http.StatusMethodNotAllowed, errorBody{Error: "GET required"})
		return
	}

	q := r.URL.Query()
	table := q.Get("table")
	if table == "" {
		writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "table is required"})
		return
	}

	limit := defaultLogLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "invalid limit"})
			return
		}
		limit = n
	}
	if int64(limit) > s.config.Query.MaxResultRows {
		limit = int(s.config.Query.MaxResultRows)
	}

	ref := quoteIdent(table)
	if db := q.Get("database"); db != "" {
		ref = quoteIdent(db) + "." + ref
	}

	sql := fmt.Sprintf("SELECT * FROM %s", ref)
	if orderBy := q.Get("order_by"); orderBy != "" {
		sql += fmt.Sprintf(" ORDER BY %s DESC", quoteIdent(orderBy))
	}
	sql += fmt.Sprintf(" LIMIT %d", limit)

	result, err := s.executor.Query(r.Context(), sql, QueryOptions{
		Database: q.Get("database"),
		MaxRows:  limit,
	})
	if err != nil {
		writeJSONStatus(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, result)
}
