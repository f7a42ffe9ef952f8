package lantern

import (
	"encoding/json"
	"errors"
	"net/http"
)

// The workspace CRUD surface: connection profiles, dashboards, saved
// queries and settings. All thin wrappers over the store.

type connectionRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database,omitempty"`
}

type connectionView struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Username  string `json:"username"`
	Database  string `json:"database,omitempty"`
	HasSecret bool   `json:"has_secret"`
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, errorBody{Error: "workspace store not configured"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		conns, err := s.store.ListConnections(r.Context())
		if err != nil {
			writeJSONStatus(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}
		views := make([]connectionView, 0, len(conns))
		for _, c := range conns {
			views = append(views, connectionView{
				Name:      c.Name,
				URL:       c.URL,
				Username:  c.Username,
				Database:  c.Database,
				HasSecret: len(c.Password) > 0,
			})
		}
		writeJSON(w, views)

	case http.MethodPost:
		var req connectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
			return
		}
		if req.Name == "" || req.URL == "" {
			writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "name and url are required"})
			return
		}
		conn := Connection{Name: req.Name, URL: req.URL, Username: req.Username, Database: req.Database}
		if req.Password != "" {
			password := []byte(req.Password)
			if s.sealer != nil {
				sealed, err := s.sealer.Seal(password)
				if err != nil {
					writeJSONStatus(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
					return
				}
				password = sealed
			}
			conn.Password = password
		}
		if err := s.store.PutConnection(r.Context(), conn); err != nil {
			writeJSONStatus(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}
		writeJSONStatus(w, http.StatusCreated, map[string]string{"name": conn.Name})

	case http.MethodDelete:
		name := r.URL.Query().Get("name")
		if name == "" {
			writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "name is required"})
			return
		}
		if err := s.store.DeleteConnection(r.Context(), name); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeJSONStatus(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	}
}

func (s *Server) handleDashboards(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, errorBody{Error: "workspace store not configured"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		if id := r.URL.Query().Get("id"); id != "" {
			d, err := s.store.GetDashboard(r.Context(), id)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, d)
			return
		}
		list, err := s.store.ListDashboards(r.Context())
		if err != nil {
			writeJSONStatus(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}
		if list == nil {
			list = []Dashboard{}
		}
		writeJSON(w, list)

	case http.MethodPost:
		var d Dashboard
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
			return
		}
		saved, err := s.store.PutDashboard(r.Context(), d)
		if err != nil {
			writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		writeJSONStatus(w, http.StatusCreated, saved)

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "id is required"})
			return
		}
		if err := s.store.DeleteDashboard(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeJSONStatus(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	}
}

func (s *Server) handleSavedQueries(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, errorBody{Error: "workspace store not configured"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		list, err := s.store.ListSavedQueries(r.Context())
		if err != nil {
			writeJSONStatus(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}
		if list == nil {
			list = []SavedQuery{}
		}
		writeJSON(w, list)

	case http.MethodPost:
		var q SavedQuery
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
			return
		}
		saved, err := s.store.PutSavedQuery(r.Context(), q)
		if err != nil {
			writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		writeJSONStatus(w, http.StatusCreated, saved)

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "id is required"})
			return
		}
		if err := s.store.DeleteSavedQuery(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeJSONStatus(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	}
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, errorBody{Error: "workspace store not configured"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.store.ListSettings(r.Context())
		if err != nil {
			writeJSONStatus(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}
		writeJSON(w, settings)

	case http.MethodPut, http.MethodPost:
		var kv map[string]string
		if err := json.NewDecoder(r.Body).Decode(&kv); err != nil {
			writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
			return
		}
		for k, v := range kv {
			if err := s.store.PutSetting(r.Context(), k, v); err != nil {
				writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: err.Error()})
				return
			}
		}
		writeJSON(w, map[string]string{"status": "ok"})

	default:
		writeJSONStatus(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		writeJSONStatus(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	writeJSONStatus(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
}
