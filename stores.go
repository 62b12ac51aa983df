// stores.go -- Backend selection for the key-value store and telemetry.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MGallo-Code/ferry/internal/config"
	"github.com/MGallo-Code/ferry/internal/securestore"
	"github.com/MGallo-Code/ferry/internal/telemetry"
)

// stores holds the built Store and what must be closed with it.
type stores struct {
	store *securestore.Store
	// redis is set when the fast backend is redis; pinged by /health.
	redis *securestore.RedisKV
	rdb   *redis.Client
}

func (s *stores) close() {
	if s.rdb != nil {
		s.rdb.Close()
	}
}

// buildStore assembles the Store: sensitive keys are sealed on disk under the
// data dir with a per-device key, everything else goes to the configured
// fast backend.
func buildStore(ctx context.Context, cfg *config.Config, reporter telemetry.Reporter) (*stores, error) {
	keyKV, err := securestore.NewFileKV(filepath.Join(cfg.DataDir, "device"))
	if err != nil {
		return nil, fmt.Errorf("failed to open device key store: %w", err)
	}
	deviceKey, err := securestore.LoadOrCreateDeviceKey(ctx, keyKV)
	if err != nil {
		return nil, fmt.Errorf("failed to load device key: %w", err)
	}
	secureDisk, err := securestore.NewFileKV(filepath.Join(cfg.DataDir, "secure"))
	if err != nil {
		return nil, fmt.Errorf("failed to open secure store: %w", err)
	}
	secure, err := securestore.NewSealedKV(secureDisk, deviceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal secure store: %w", err)
	}

	out := &stores{}
	var fast securestore.KV
	switch cfg.StoreBackend {
	case config.BackendMemory:
		fast = securestore.NewMemoryKV()
	case config.BackendRedis:
		rdb, err := securestore.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set up redis client: %w", err)
		}
		out.rdb = rdb
		out.redis = securestore.NewRedisKV(rdb, "ferry")
		fast = out.redis
	default:
		fast, err = securestore.NewFileKV(filepath.Join(cfg.DataDir, "data"))
		if err != nil {
			return nil, fmt.Errorf("failed to open data store: %w", err)
		}
	}

	out.store = securestore.New(fast, secure, reporter)
	slog.Info("store ready", "backend", cfg.StoreBackend, "data_dir", cfg.DataDir)
	return out, nil
}

// buildReporter returns the Sentry reporter when a DSN is configured and the
// slog reporter otherwise. The returned func flushes pending events.
func buildReporter(cfg *config.Config) (telemetry.Reporter, func()) {
	if cfg.SentryDSN == "" {
		return telemetry.Safe(telemetry.LogReporter{}), func() {}
	}
	sr, err := telemetry.NewSentryReporter(cfg.SentryDSN, cfg.SentryEnvironment)
	if err != nil {
		slog.Warn("sentry unavailable, reporting to log", "error", err)
		return telemetry.Safe(telemetry.LogReporter{}), func() {}
	}
	return telemetry.Safe(sr), func() { sr.Close(2 * time.Second) }
}
