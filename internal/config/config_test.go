package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every setting LoadConfig reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"FERRY_CONFIG_FILE", "SUPABASE_URL", "SUPABASE_ANON_KEY", "PORT", "LOG_LEVEL",
		"FERRY_DATA_DIR", "REDIS_URL", "STORE_BACKEND", "SENTRY_DSN", "SENTRY_ENVIRONMENT",
		"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "DATABASE_URL", "PROBE_ADDR",
		"PROBE_INTERVAL", "PROBE_TIMEOUT", "TOAST_DEBOUNCE", "REFRESH_TICK",
		"DEEP_LINK_SCHEME", "EMAIL_REDIRECT_URL", "RESET_REDIRECT_URL", "FERRY_INITIAL_URL",
		"ALLOW_UNVERIFIED_OFFLINE", "LOCALE", "FERRY_CONTROL_TOKEN", "PASSWORD_MIN_LENGTH",
		"PASSWORD_REQUIRE_UPPERCASE", "PASSWORD_REQUIRE_DIGIT", "PASSWORD_REQUIRE_SPECIAL",
	} {
		t.Setenv(k, "")
	}
}

// setRequired sets the minimum required env vars for a valid config.
func setRequired(t *testing.T) {
	t.Helper()
	clearEnv(t)
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("FERRY_DATA_DIR", t.TempDir())
}

// --- LoadConfig ---

func TestLoadConfig(t *testing.T) {
	t.Run("returns valid config with all required vars", func(t *testing.T) {
		setRequired(t)

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.SupabaseURL != "https://proj.supabase.co" {
			t.Errorf("SupabaseURL: expected trailing slash trimmed, got %q", cfg.SupabaseURL)
		}
		if cfg.SupabaseAnonKey != "anon" {
			t.Errorf("SupabaseAnonKey: expected %q, got %q", "anon", cfg.SupabaseAnonKey)
		}
	})

	t.Run("errors when SUPABASE_URL is missing", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SUPABASE_URL", "")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for missing SUPABASE_URL, got nil")
		}
	})

	t.Run("errors when SUPABASE_URL is not http", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SUPABASE_URL", "ftp://proj.supabase.co")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for ftp URL, got nil")
		}
	})

	t.Run("errors when SUPABASE_ANON_KEY is missing", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SUPABASE_ANON_KEY", "")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for missing SUPABASE_ANON_KEY, got nil")
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		setRequired(t)

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Port != "7865" {
			t.Errorf("Port: expected 7865, got %q", cfg.Port)
		}
		if cfg.LogLevel != slog.LevelInfo {
			t.Errorf("LogLevel: expected info, got %v", cfg.LogLevel)
		}
		if cfg.StoreBackend != BackendFile {
			t.Errorf("StoreBackend: expected file, got %q", cfg.StoreBackend)
		}
		if cfg.ProbeAddr != "proj.supabase.co:443" {
			t.Errorf("ProbeAddr: expected proj.supabase.co:443, got %q", cfg.ProbeAddr)
		}
		if cfg.ProbeInterval != 15*time.Second || cfg.ProbeTimeout != 3*time.Second {
			t.Errorf("probe timings: got %v / %v", cfg.ProbeInterval, cfg.ProbeTimeout)
		}
		if cfg.ToastDebounce != 3*time.Second || cfg.RefreshTick != 30*time.Second {
			t.Errorf("debounce / refresh: got %v / %v", cfg.ToastDebounce, cfg.RefreshTick)
		}
		if cfg.EmailRedirect != "ferry://verify-email" {
			t.Errorf("EmailRedirect: expected ferry://verify-email, got %q", cfg.EmailRedirect)
		}
		if cfg.AllowUnverifiedOffline {
			t.Error("AllowUnverifiedOffline: expected false by default")
		}
		if cfg.Locale != "en" || cfg.PasswordMinLength != 8 {
			t.Errorf("locale / min length: got %q / %d", cfg.Locale, cfg.PasswordMinLength)
		}
	})

	t.Run("errors on invalid PORT", func(t *testing.T) {
		setRequired(t)
		t.Setenv("PORT", "http")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for invalid PORT, got nil")
		}
	})

	t.Run("redis backend requires REDIS_URL", func(t *testing.T) {
		setRequired(t)
		t.Setenv("STORE_BACKEND", "redis")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for redis without REDIS_URL, got nil")
		}

		t.Setenv("REDIS_URL", "redis://localhost:6379")
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.StoreBackend != BackendRedis {
			t.Errorf("StoreBackend: expected redis, got %q", cfg.StoreBackend)
		}
	})

	t.Run("errors on unknown backend", func(t *testing.T) {
		setRequired(t)
		t.Setenv("STORE_BACKEND", "etcd")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for unknown backend, got nil")
		}
	})

	t.Run("google client id alone is accepted", func(t *testing.T) {
		setRequired(t)
		t.Setenv("GOOGLE_CLIENT_ID", "client")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.GoogleClientID != "client" || cfg.GoogleClientSecret != "" {
			t.Errorf("expected id client and no secret, got %q/%q", cfg.GoogleClientID, cfg.GoogleClientSecret)
		}
	})

	t.Run("google secret without client id is rejected", func(t *testing.T) {
		setRequired(t)
		t.Setenv("GOOGLE_CLIENT_SECRET", "secret")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for lone client secret, got nil")
		}
	})

	t.Run("probe address keeps an explicit port", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SUPABASE_URL", "http://127.0.0.1:54321")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.ProbeAddr != "127.0.0.1:54321" {
			t.Errorf("ProbeAddr: expected 127.0.0.1:54321, got %q", cfg.ProbeAddr)
		}
	})

	t.Run("invalid typed values fall back to defaults", func(t *testing.T) {
		setRequired(t)
		t.Setenv("PROBE_INTERVAL", "soon")
		t.Setenv("PASSWORD_MIN_LENGTH", "-3")
		t.Setenv("ALLOW_UNVERIFIED_OFFLINE", "perhaps")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.ProbeInterval != 15*time.Second {
			t.Errorf("ProbeInterval: expected 15s, got %v", cfg.ProbeInterval)
		}
		if cfg.PasswordMinLength != 8 {
			t.Errorf("PasswordMinLength: expected 8, got %d", cfg.PasswordMinLength)
		}
		if cfg.AllowUnverifiedOffline {
			t.Error("AllowUnverifiedOffline: expected false")
		}
	})

	t.Run("parses log level", func(t *testing.T) {
		setRequired(t)
		t.Setenv("LOG_LEVEL", "DEBUG")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.LogLevel != slog.LevelDebug {
			t.Errorf("LogLevel: expected debug, got %v", cfg.LogLevel)
		}
	})
}

// --- YAML overlay ---

func writeOverlay(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ferry.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing overlay: %v", err)
	}
	return path
}

func TestLoadConfigOverlay(t *testing.T) {
	t.Run("file supplies settings", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("FERRY_DATA_DIR", t.TempDir())
		t.Setenv("FERRY_CONFIG_FILE", writeOverlay(t, `
supabase_url: https://file.supabase.co
supabase_anon_key: from-file
probe_interval: 1m
allow_unverified_offline: true
password_min_length: 12
`))

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.SupabaseURL != "https://file.supabase.co" || cfg.SupabaseAnonKey != "from-file" {
			t.Errorf("expected file values, got %q / %q", cfg.SupabaseURL, cfg.SupabaseAnonKey)
		}
		if cfg.ProbeInterval != time.Minute {
			t.Errorf("ProbeInterval: expected 1m, got %v", cfg.ProbeInterval)
		}
		if !cfg.AllowUnverifiedOffline {
			t.Error("AllowUnverifiedOffline: expected true from file")
		}
		if cfg.PasswordMinLength != 12 {
			t.Errorf("PasswordMinLength: expected 12, got %d", cfg.PasswordMinLength)
		}
	})

	t.Run("environment wins over file", func(t *testing.T) {
		setRequired(t)
		t.Setenv("FERRY_CONFIG_FILE", writeOverlay(t, "supabase_anon_key: from-file\nlocale: pt\n"))

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.SupabaseAnonKey != "anon" {
			t.Errorf("SupabaseAnonKey: expected env value, got %q", cfg.SupabaseAnonKey)
		}
		if cfg.Locale != "pt" {
			t.Errorf("Locale: expected pt from file, got %q", cfg.Locale)
		}
	})

	t.Run("missing file errors", func(t *testing.T) {
		setRequired(t)
		t.Setenv("FERRY_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for missing file, got nil")
		}
	})

	t.Run("nested values are rejected", func(t *testing.T) {
		setRequired(t)
		t.Setenv("FERRY_CONFIG_FILE", writeOverlay(t, "redis:\n  url: x\n"))

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for nested mapping, got nil")
		}
	})

	t.Run("malformed yaml errors", func(t *testing.T) {
		setRequired(t)
		t.Setenv("FERRY_CONFIG_FILE", writeOverlay(t, "key: [unterminated\n"))

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for malformed yaml, got nil")
		}
	})
}
