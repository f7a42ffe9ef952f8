package lantern

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	// Listen is the address the HTTP server binds to.
	Listen string `yaml:"listen"`

	// Upstream configures the analytical database connection.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Query configures query execution limits.
	Query QueryLimitsConfig `yaml:"query"`

	// Stream configures the streamed response path.
	Stream StreamConfig `yaml:"stream"`

	// Workspace configures the local metadata store.
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Auth configures API authentication.
	// If nil or Enabled is false, no authentication is required.
	Auth *AuthConfig `yaml:"auth"`

	// RateLimitPerSecond is the maximum requests per second per IP.
	// Default: 100. Set to 0 to disable rate limiting.
	RateLimitPerSecond int `yaml:"rate_limit_per_second"`

	// EnableCORS allows the console to be served from another origin.
	EnableCORS bool `yaml:"enable_cors"`

	// AllowedOrigins restricts CORS to these origins when EnableCORS is
	// true. An empty list defaults to same-origin only (no wildcard).
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Tail configures the WebSocket live tail endpoint.
	Tail TailConfig `yaml:"tail"`

	// Export configures query result export to object storage.
	// If nil, the export endpoint is disabled.
	Export *ExportConfig `yaml:"export"`

	// Telemetry configures the query-stat remote-write publisher.
	// If nil or Endpoint is empty, telemetry is disabled.
	Telemetry *TelemetryConfig `yaml:"telemetry"`
}

// QueryLimitsConfig groups query execution limits.
type QueryLimitsConfig struct {
	// MaxResultRows is the hard per-request ceiling on streamed rows.
	// Default: 500,000.
	MaxResultRows int64 `yaml:"max_result_rows"`

	// MaxQueryLen is the maximum accepted query text length in bytes.
	// Default: 262144.
	MaxQueryLen int `yaml:"max_query_len"`

	// ConsoleMaxRows bounds unary console results. Default: 10,000.
	ConsoleMaxRows int `yaml:"console_max_rows"`
}

// StreamConfig groups streamed response settings.
type StreamConfig struct {
	// BufferSize is the frame channel capacity between the transcoding
	// loop and the connection writer; it encodes the backpressure
	// threshold. Default: 256.
	BufferSize int `yaml:"buffer_size"`
}

// WorkspaceConfig groups metadata store settings.
type WorkspaceConfig struct {
	// Path is the SQLite file holding connections, dashboards, saved
	// queries and settings. Default: "lantern.db".
	Path string `yaml:"path"`

	// Secret seals stored connection passwords. If empty, passwords are
	// persisted unencrypted.
	Secret string `yaml:"secret"`
}

// AuthConfig configures API key authentication.
type AuthConfig struct {
	// Enabled turns on authentication.
	Enabled bool `yaml:"enabled"`

	// APIKeys are keys with full access.
	APIKeys []string `yaml:"api_keys"`

	// ReadOnlyKeys are keys that cannot modify the workspace.
	ReadOnlyKeys []string `yaml:"read_only_keys"`

	// ExcludePaths are request paths that skip authentication.
	ExcludePaths []string `yaml:"exclude_paths"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Listen: ":8480",
		Upstream: UpstreamConfig{
			URL:     "http://localhost:8123",
			Timeout: 30 * time.Second,
		},
		Query: QueryLimitsConfig{
			MaxResultRows:  500000,
			MaxQueryLen:    256 * 1024,
			ConsoleMaxRows: 10000,
		},
		Stream: StreamConfig{
			BufferSize: 256,
		},
		Workspace: WorkspaceConfig{
			Path: "lantern.db",
		},
		RateLimitPerSecond: 100,
		Tail:               DefaultTailConfig(),
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
