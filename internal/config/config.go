// config.go

// Environment variable loading and validation, with an optional YAML overlay.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends for non-sensitive keys.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config holds all configuration for the ferry agent.
type Config struct {
	SupabaseURL     string
	SupabaseAnonKey string
	Port            string
	LogLevel        slog.Level

	// StoreBackend holds non-sensitive keys: memory, file (default) or redis.
	// Sensitive keys are always sealed on disk under DataDir.
	StoreBackend string
	RedisURL     string
	DataDir      string

	// SentryDSN enables crash reporting; empty logs crashes instead.
	SentryDSN         string
	SentryEnvironment string

	// Google sign-in is disabled unless both are set.
	GoogleClientID     string
	GoogleClientSecret string

	// DatabaseURL enables profile materialization; empty disables it.
	DatabaseURL string

	// Connectivity probe. ProbeAddr defaults to the auth service host on 443.
	ProbeAddr     string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	ToastDebounce time.Duration

	// RefreshTick is the session auto-refresh interval while in the foreground.
	RefreshTick time.Duration

	// Where emailed links land.
	EmailRedirect string
	ResetRedirect string
	// DeepLinkScheme is the custom URL scheme accepted for verification links.
	DeepLinkScheme string
	// InitialURL is handled once at startup as a cold-start deep link.
	InitialURL string

	// AllowUnverifiedOffline trusts an unverified token payload while offline.
	// Default false.
	AllowUnverifiedOffline bool
	Locale                 string

	// ControlToken guards the control surface. Generated at startup when empty.
	ControlToken string

	PasswordMinLength        int
	PasswordRequireUppercase bool
	PasswordRequireDigit     bool
	PasswordRequireSpecial   bool
}

// source resolves settings: environment first, then the YAML overlay.
type source map[string]string

func (s source) get(key string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return s[key]
}

// LoadConfig reads the YAML overlay named by FERRY_CONFIG_FILE (if any), then
// environment variables, and returns a validated Config. Environment variables
// override the file. Returns an error if SUPABASE_URL or SUPABASE_ANON_KEY is
// missing or a setting is invalid.
func LoadConfig() (*Config, error) {
	src := source{}
	if path := os.Getenv("FERRY_CONFIG_FILE"); path != "" {
		overlay, err := loadOverlay(path)
		if err != nil {
			return nil, err
		}
		src = overlay
	}

	cfg := &Config{}

	cfg.SupabaseURL = strings.TrimRight(src.get("SUPABASE_URL"), "/")
	if cfg.SupabaseURL == "" {
		return nil, fmt.Errorf("SUPABASE_URL is required")
	}
	base, err := url.Parse(cfg.SupabaseURL)
	if err != nil || (base.Scheme != "https" && base.Scheme != "http") || base.Host == "" {
		return nil, fmt.Errorf("SUPABASE_URL must be an http(s) URL")
	}
	cfg.SupabaseAnonKey = src.get("SUPABASE_ANON_KEY")
	if cfg.SupabaseAnonKey == "" {
		return nil, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}

	// Attempt to get port num, default to 7865
	cfg.Port = src.get("PORT")
	if cfg.Port == "" {
		cfg.Port = "7865"
	}
	if n, err := strconv.Atoi(cfg.Port); err != nil || n <= 0 || n > 65535 {
		return nil, fmt.Errorf("PORT must be a port number, got %q", cfg.Port)
	}

	// Parse log level, default to info
	switch strings.ToLower(src.get("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.DataDir = src.get("FERRY_DATA_DIR")
	if cfg.DataDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("FERRY_DATA_DIR unset and no user config dir: %w", err)
		}
		cfg.DataDir = dir + string(os.PathSeparator) + "ferry"
	}
	cfg.RedisURL = src.get("REDIS_URL")
	cfg.StoreBackend = strings.ToLower(src.get("STORE_BACKEND"))
	switch cfg.StoreBackend {
	case "":
		cfg.StoreBackend = BackendFile
	case BackendMemory, BackendFile:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when STORE_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be memory, file or redis, got %q", cfg.StoreBackend)
	}

	cfg.SentryDSN = src.get("SENTRY_DSN")
	cfg.SentryEnvironment = src.get("SENTRY_ENVIRONMENT")
	if cfg.SentryEnvironment == "" {
		cfg.SentryEnvironment = "production"
	}

	cfg.GoogleClientID = src.get("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = src.get("GOOGLE_CLIENT_SECRET")
	// The secret is optional (installed-app clients use PKCE alone).
	if cfg.GoogleClientID == "" && cfg.GoogleClientSecret != "" {
		return nil, fmt.Errorf("GOOGLE_CLIENT_SECRET is set without GOOGLE_CLIENT_ID")
	}

	cfg.DatabaseURL = src.get("DATABASE_URL")

	cfg.ProbeAddr = src.get("PROBE_ADDR")
	if cfg.ProbeAddr == "" {
		port := base.Port()
		if port == "" {
			port = "443"
			if base.Scheme == "http" {
				port = "80"
			}
		}
		cfg.ProbeAddr = net.JoinHostPort(base.Hostname(), port)
	}
	cfg.ProbeInterval = envDuration(src, "PROBE_INTERVAL", 15*time.Second)
	cfg.ProbeTimeout = envDuration(src, "PROBE_TIMEOUT", 3*time.Second)
	cfg.ToastDebounce = envDuration(src, "TOAST_DEBOUNCE", 3*time.Second)
	cfg.RefreshTick = envDuration(src, "REFRESH_TICK", 30*time.Second)

	cfg.DeepLinkScheme = strings.ToLower(src.get("DEEP_LINK_SCHEME"))
	if cfg.DeepLinkScheme == "" {
		cfg.DeepLinkScheme = "ferry"
	}
	cfg.EmailRedirect = src.get("EMAIL_REDIRECT_URL")
	if cfg.EmailRedirect == "" {
		cfg.EmailRedirect = cfg.DeepLinkScheme + "://verify-email"
	}
	cfg.ResetRedirect = src.get("RESET_REDIRECT_URL")
	cfg.InitialURL = src.get("FERRY_INITIAL_URL")

	// Default false -- only an explicit true enables.
	cfg.AllowUnverifiedOffline = envBool(src, "ALLOW_UNVERIFIED_OFFLINE", false)
	cfg.Locale = src.get("LOCALE")
	if cfg.Locale == "" {
		cfg.Locale = "en"
	}
	cfg.ControlToken = src.get("FERRY_CONTROL_TOKEN")

	cfg.PasswordMinLength = envInt(src, "PASSWORD_MIN_LENGTH", 8)
	cfg.PasswordRequireUppercase = envBool(src, "PASSWORD_REQUIRE_UPPERCASE", false)
	cfg.PasswordRequireDigit = envBool(src, "PASSWORD_REQUIRE_DIGIT", false)
	cfg.PasswordRequireSpecial = envBool(src, "PASSWORD_REQUIRE_SPECIAL", false)

	return cfg, nil
}

// loadOverlay reads a flat YAML mapping. Keys are matched case-insensitively
// against the environment variable names.
func loadOverlay(path string) (source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	src := make(source, len(doc))
	for k, v := range doc {
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("config file %s: %s must be a scalar", path, k)
		case nil:
			continue
		}
		src[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return src, nil
}

// envInt reads a setting as int, returning def if missing or unparseable.
func envInt(src source, key string, def int) int {
	v := src.get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid setting, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads a setting as time.Duration, returning def if missing or unparseable.
func envDuration(src source, key string, def time.Duration) time.Duration {
	v := src.get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid setting, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// envBool reads a setting as bool, returning def if missing or unparseable.
func envBool(src source, key string, def bool) bool {
	v := src.get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid setting, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}
