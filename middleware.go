package lantern

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// maxBodySize is the maximum allowed request body size (10MB).
const maxBodySize = 10 * 1024 * 1024

// rateLimiter implements a simple token bucket rate limiter per IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
	cleanup  time.Duration // cleanup interval
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a rate limiter with the given rate per window.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		cleanup:  window * 2,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for ip, v := range rl.visitors {
			if now.Sub(v.lastReset) > rl.cleanup {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: now}
		return true
	}

	if now.Sub(v.lastReset) >= rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = now
		return true
	}

	if v.tokens > 0 {
		v.tokens--
		return true
	}

	return false
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// rateLimitMiddleware wraps a handler with rate limiting.
func rateLimitMiddleware(rl *rateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if !rl.allow(ip) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// authenticator handles API key authentication.
type authenticator struct {
	enabled      bool
	apiKeys      map[string]bool
	readOnlyKeys map[string]bool
	excludePaths map[string]bool
}

func newAuthenticator(cfg *AuthConfig) *authenticator {
	a := &authenticator{
		apiKeys:      make(map[string]bool),
		readOnlyKeys: make(map[string]bool),
		excludePaths: make(map[string]bool),
	}

	if cfg == nil || !cfg.Enabled {
		a.enabled = false
		return a
	}

	a.enabled = true
	for _, key := range cfg.APIKeys {
		a.apiKeys[key] = true
	}
	for _, key := range cfg.ReadOnlyKeys {
		a.readOnlyKeys[key] = true
	}
	for _, path := range cfg.ExcludePaths {
		a.excludePaths[path] = true
	}
	// Always allow health endpoint without auth
	a.excludePaths["/healthz"] = true

	return a
}

// extractAPIKey extracts the API key from the request.
func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	return r.URL.Query().Get("api_key")
}

// isWorkspaceWrite returns true if the request mutates workspace state.
// Query endpoints are reads even with POST; export writes to external
// storage and counts as a write.
func isWorkspaceWrite(r *http.Request) bool {
	if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
		return false
	}
	path := r.URL.Path
	if path == "/api/query" || strings.HasPrefix(path, "/api/console/") || strings.HasPrefix(path, "/api/logs") {
		return false
	}
	return true
}

// authMiddleware wraps a handler with authentication.
func authMiddleware(auth *authenticator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !auth.enabled {
			next(w, r)
			return
		}

		if auth.excludePaths[r.URL.Path] {
			next(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		if auth.apiKeys[apiKey] {
			next(w, r)
			return
		}

		if auth.readOnlyKeys[apiKey] {
			if isWorkspaceWrite(r) {
				http.Error(w, "read-only API key cannot modify the workspace", http.StatusForbidden)
				return
			}
			next(w, r)
			return
		}

		http.Error(w, "invalid API key", http.StatusUnauthorized)
	}
}
