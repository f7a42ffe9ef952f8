package lantern

import (
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
)

//go:embed webui/templates/console.html
var consoleTemplateFS embed.FS

var (
	consoleTmplOnce sync.Once
	consoleTmpl     *template.Template
	consoleTmplErr  error
)

func consoleTemplate() (*template.Template, error) {
	consoleTmplOnce.Do(func() {
		consoleTmpl, consoleTmplErr = template.ParseFS(consoleTemplateFS, "webui/templates/console.html")
	})
	return consoleTmpl, consoleTmplErr
}

// handleConsolePage serves the browser SQL console.
func (s *Server) handleConsolePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	tmpl, err := consoleTemplate()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, nil); err != nil {
		slog.Error("console template render failed", "err", err)
	}
}

type consoleQueryResponse struct {
	Columns   []Column `json:"columns,omitempty"`
	Rows      []any    `json:"rows,omitempty"`
	RowsCount int      `json:"rows_count"`
	Elapsed   float64  `json:"elapsed,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// handleConsoleQuery serves POST /api/console/query: the unary editor
// path, bounded by ConsoleMaxRows. Query failures come back as HTTP 200
// with the error in the body, matching the streamed path's in-band style.
func (s *Server) handleConsoleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONStatus(w, http.StatusMethodNotAllowed, consoleQueryResponse{Error: "POST required"})
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, consoleQueryResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := req.Validate(s.config.Query.MaxQueryLen); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, consoleQueryResponse{Error: err.Error()})
		return
	}

	opts := req.Options()
	opts.MaxRows = s.config.Query.ConsoleMaxRows
	result, err := s.executor.Query(r.Context(), req.EffectiveSQL(), opts)
	if err != nil {
		writeJSONStatus(w, http.StatusOK, consoleQueryResponse{Error: err.Error()})
		return
	}

	writeJSONStatus(w, http.StatusOK, consoleQueryResponse{
		Columns:   result.Columns,
		Rows:      result.Rows,
		RowsCount: len(result.Rows),
		Elapsed:   result.Elapsed,
	})
}
