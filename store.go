package lantern

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// StoreConfig configures the workspace metadata store.
type StoreConfig struct {
	// Path to the SQLite database file
	Path string

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// BusyTimeout is the timeout for acquiring locks in milliseconds
	BusyTimeout int

	// MaxConnections is the max number of database connections
	MaxConnections int
}

// DefaultStoreConfig returns default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Path:           "lantern.db",
		JournalMode:    "WAL",
		BusyTimeout:    5000,
		MaxConnections: 10,
	}
}

// Store persists workspace metadata: connection profiles, dashboards,
// saved queries and settings. Query results are never stored here.
type Store struct {
	db     *sql.DB
	config StoreConfig
	mu     sync.RWMutex
	closed bool
}

// Connection is a stored connection profile. Password holds the sealed
// form when a workspace secret is configured.
type Connection struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Username  string    `json:"username"`
	Password  []byte    `json:"-"`
	Database  string    `json:"database,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Dashboard is a stored dashboard definition. Definition is an opaque
// JSON document owned by the UI.
type Dashboard struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Definition string    `json:"definition"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SavedQuery is a named SQL snippet.
type SavedQuery struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SQL       string    `json:"sql"`
	CreatedAt time.Time `json:"created_at"`
}

// OpenStore opens or creates the workspace store.
func OpenStore(config StoreConfig) (*Store, error) {
	if config.Path == "" {
		config.Path = "lantern.db"
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d",
		config.Path, config.JournalMode, config.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxConnections / 2)

	store := &Store{db: db, config: config}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			name TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			password BLOB,
			database TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dashboards (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			definition TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS saved_queries (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			sql_text TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// PutConnection inserts or replaces a connection profile.
func (s *Store) PutConnection(ctx context.Context, c Connection) error {
	if err := s.guard(); err != nil {
		return err
	}
	if c.Name == "" {
		return errors.New("connection name is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (name, url, username, password, database, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   url = excluded.url, username = excluded.username,
		   password = excluded.password, database = excluded.database,
		   updated_at = excluded.updated_at`,
		c.Name, c.URL, c.Username, c.Password, c.Database, time.Now().UnixMilli())
	return err
}

// GetConnection fetches one connection profile by name.
func (s *Store) GetConnection(ctx context.Context, name string) (*Connection, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT name, url, username, password, database, updated_at FROM connections WHERE name = ?`, name)
	var c Connection
	var updated int64
	if err := row.Scan(&c.Name, &c.URL, &c.Username, &c.Password, &c.Database, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.UpdatedAt = time.UnixMilli(updated)
	return &c, nil
}

// ListConnections returns all connection profiles ordered by name.
func (s *Store) ListConnections(ctx context.Context) ([]Connection, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, url, username, password, database, updated_at FROM connections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Connection
	for rows.Next() {
		var c Connection
		var updated int64
		if err := rows.Scan(&c.Name, &c.URL, &c.Username, &c.Password, &c.Database, &updated); err != nil {
			return nil, err
		}
		c.UpdatedAt = time.UnixMilli(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConnection removes a connection profile.
func (s *Store) DeleteConnection(ctx context.Context, name string) error {
	if err := s.guard(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PutDashboard inserts or replaces a dashboard. A missing ID is generated.
func (s *Store) PutDashboard(ctx context.Context, d Dashboard) (Dashboard, error) {
	if err := s.guard(); err != nil {
		return d, err
	}
	if d.Name == "" {
		return d, errors.New("dashboard name is required")
	}
	if d.ID == "" {
		d.ID = newID()
	}
	d.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dashboards (id, name, definition, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, definition = excluded.definition, updated_at = excluded.updated_at`,
		d.ID, d.Name, d.Definition, d.UpdatedAt.UnixMilli())
	return d, err
}

// GetDashboard fetches one dashboard by ID.
func (s *Store) GetDashboard(ctx context.Context, id string) (*Dashboard, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, definition, updated_at FROM dashboards WHERE id = ?`, id)
	var d Dashboard
	var updated int64
	if err := row.Scan(&d.ID, &d.Name, &d.Definition, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d.UpdatedAt = time.UnixMilli(updated)
	return &d, nil
}

// ListDashboards returns all dashboards, most recently updated first.
func (s *Store) ListDashboards(ctx context.Context) ([]Dashboard, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, definition, updated_at FROM dashboards ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Dashboard
	for rows.Next() {
		var d Dashboard
		var updated int64
		if err := rows.Scan(&d.ID, &d.Name, &d.Definition, &updated); err != nil {
			return nil, err
		}
		d.UpdatedAt = time.UnixMilli(updated)
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDashboard removes a dashboard.
func (s *Store) DeleteDashboard(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM dashboards WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PutSavedQuery inserts or replaces a saved query. A missing ID is generated.
func (s *Store) PutSavedQuery(ctx context.Context, q SavedQuery) (SavedQuery, error) {
	if err := s.guard(); err != nil {
		return q, err
	}
	if q.Name == "" || q.SQL == "" {
		return q, errors.New("saved query name and sql are required")
	}
	if q.ID == "" {
		q.ID = newID()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO saved_queries (id, name, sql_text, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, sql_text = excluded.sql_text`,
		q.ID, q.Name, q.SQL, q.CreatedAt.UnixMilli())
	return q, err
}

// ListSavedQueries returns all saved queries ordered by name.
func (s *Store) ListSavedQueries(ctx context.Context) ([]SavedQuery, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, sql_text, created_at FROM saved_queries ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SavedQuery
	for rows.Next() {
		var q SavedQuery
		var created int64
		if err := rows.Scan(&q.ID, &q.Name, &q.SQL, &created); err != nil {
			return nil, err
		}
		q.CreatedAt = time.UnixMilli(created)
		out = append(out, q)
	}
	return out, rows.Err()
}

// DeleteSavedQuery removes a saved query.
func (s *Store) DeleteSavedQuery(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_queries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSetting returns a setting value, ErrNotFound when absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// PutSetting stores a setting value.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if key == "" {
		return errors.New("setting key is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// ListSettings returns all settings as a map.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// newID returns a random 16-byte hex identifier.
func newID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("id-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
