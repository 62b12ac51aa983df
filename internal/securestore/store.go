// store.go -- JSON key-value store with secure-key routing and chunking.
//
// Keys that look sensitive go to the keystore backend, everything else to the
// fast backend. Keystore values larger than ChunkSize are split into numbered
// chunks with a sibling count key. No method returns an error: failures are
// reported to telemetry and surface as false / miss.
package securestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/MGallo-Code/ferry/internal/telemetry"
)

// ChunkSize is the largest value written to the keystore as a single entry.
// Leaves headroom under MaxSealedValue.
const ChunkSize = 1800

const (
	chunkPrefix      = "_chunk_"
	chunkCountSuffix = "_chunks"
)

// secureSubstrings route any key containing one of them to the keystore.
var secureSubstrings = []string{"cachedAuth", "password", "credentials", "token", "api_key"}

// protectedKeys survive Clear; only ClearAll removes them.
var protectedKeys = map[string]bool{
	DeviceKeyName:       true,
	"hasSeenOnboarding": true,
	"themePreference":   true,
	"userLanguage":      true,
}

// IsSecureKey reports whether key is routed to the keystore.
func IsSecureKey(key string) bool {
	for _, s := range secureSubstrings {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

// IsProtectedKey reports whether key survives Clear.
func IsProtectedKey(key string) bool {
	return protectedKeys[key]
}

// Store is the process-wide value store. Construct once at startup and share.
type Store struct {
	fast     KV
	secure   KV
	reporter telemetry.Reporter
}

// New returns a Store over the fast and keystore backends.
func New(fast, secure KV, reporter telemetry.Reporter) *Store {
	return &Store{fast: fast, secure: secure, reporter: telemetry.Safe(reporter)}
}

// NewMemory returns a Store backed entirely by memory. Used by tests and the "memory" backend.
func NewMemory(reporter telemetry.Reporter) *Store {
	return New(NewMemoryKV(), NewMemoryKV(), reporter)
}

// SaveString stores value under key. Returns false on any backend failure.
func (s *Store) SaveString(ctx context.Context, key, value string) bool {
	var err error
	if IsSecureKey(key) {
		err = s.writeSecure(ctx, key, value)
	} else {
		err = s.fast.Set(ctx, key, value)
	}
	if err != nil {
		s.reporter.ReportCrash(fmt.Errorf("saving %q: %w", key, err))
		return false
	}
	return true
}

// LoadString returns the raw string under key; false on miss or failure.
func (s *Store) LoadString(ctx context.Context, key string) (string, bool) {
	var (
		v   string
		ok  bool
		err error
	)
	if IsSecureKey(key) {
		v, ok, err = s.readSecure(ctx, key)
	} else {
		v, ok, err = s.fast.Get(ctx, key)
	}
	if err != nil {
		s.reporter.ReportCrash(fmt.Errorf("loading %q: %w", key, err))
		return "", false
	}
	return v, ok
}

// Save JSON-encodes v under key. Returns false if encoding or storage fails.
func (s *Store) Save(ctx context.Context, key string, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		s.reporter.ReportCrash(fmt.Errorf("encoding %q: %w", key, err))
		return false
	}
	return s.SaveString(ctx, key, string(b))
}

// Load decodes the JSON value under key into a T.
// When the stored value is not valid JSON and T is string, the raw value is returned;
// for any other T an undecodable value is a miss.
func Load[T any](ctx context.Context, s *Store, key string) (T, bool) {
	var out T
	raw, ok := s.LoadString(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		if p, isString := any(&out).(*string); isString {
			*p = raw
			return out, true
		}
		var zero T
		return zero, false
	}
	return out, true
}

// Remove deletes key (and any chunks). Failures are reported, never returned.
func (s *Store) Remove(ctx context.Context, key string) {
	var err error
	if IsSecureKey(key) {
		err = s.deleteSecure(ctx, key)
	} else {
		err = s.fast.Delete(ctx, key)
	}
	if err != nil {
		s.reporter.ReportCrash(fmt.Errorf("removing %q: %w", key, err))
	}
}

// Clear removes every key except the protected allow-list.
func (s *Store) Clear(ctx context.Context) {
	s.clear(ctx, false)
}

// ClearAll removes every key, protected ones included.
func (s *Store) ClearAll(ctx context.Context) {
	s.clear(ctx, true)
}

func (s *Store) clear(ctx context.Context, everything bool) {
	for _, kv := range []KV{s.fast, s.secure} {
		keys, err := kv.Keys(ctx)
		if err != nil {
			s.reporter.ReportCrash(fmt.Errorf("listing keys for clear: %w", err))
			continue
		}
		for _, k := range keys {
			if !everything && IsProtectedKey(k) {
				continue
			}
			if err := kv.Delete(ctx, k); err != nil {
				s.reporter.ReportCrash(fmt.Errorf("clearing %q: %w", k, err))
			}
		}
	}
}

// Keys lists logical keys from both backends; chunk bookkeeping entries are folded
// into their parent key.
func (s *Store) Keys(ctx context.Context) []string {
	seen := make(map[string]bool)
	var out []string
	for _, kv := range []KV{s.fast, s.secure} {
		keys, err := kv.Keys(ctx)
		if err != nil {
			s.reporter.ReportCrash(fmt.Errorf("listing keys: %w", err))
			continue
		}
		for _, k := range keys {
			if kv == s.secure {
				if i := strings.Index(k, chunkPrefix); i > 0 {
					k = k[:i]
				} else if strings.HasSuffix(k, chunkCountSuffix) {
					k = strings.TrimSuffix(k, chunkCountSuffix)
				}
			}
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// --- Chunked keystore access ---

func chunkKey(key string, i int) string {
	return key + chunkPrefix + strconv.Itoa(i)
}

func splitChunks(value string) []string {
	chunks := make([]string, 0, len(value)/ChunkSize+1)
	for i := 0; i < len(value); i += ChunkSize {
		end := min(i+ChunkSize, len(value))
		chunks = append(chunks, value[i:end])
	}
	return chunks
}

// chunkCount returns the stored chunk count for key, 0 if unchunked.
func (s *Store) chunkCount(ctx context.Context, key string) (int, error) {
	raw, ok, err := s.secure.Get(ctx, key+chunkCountSuffix)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: chunk count %q", ErrCorrupt, raw)
	}
	return n, nil
}

// writeSecure replaces whatever representation key had before, single or chunked.
func (s *Store) writeSecure(ctx context.Context, key, value string) error {
	prev, err := s.chunkCount(ctx, key)
	if err != nil {
		// Unreadable count: overwrite below and drop it.
		prev = 0
	}

	if len(value) <= ChunkSize {
		if err := s.secure.Set(ctx, key, value); err != nil {
			return err
		}
		return s.dropChunks(ctx, key, 0, prev)
	}

	// A leftover single value would shadow the chunks on read.
	if err := s.secure.Delete(ctx, key); err != nil {
		return err
	}
	chunks := splitChunks(value)
	for i, c := range chunks {
		if err := s.secure.Set(ctx, chunkKey(key, i), c); err != nil {
			return fmt.Errorf("writing chunk %d: %w", i, err)
		}
	}
	// Count goes last so a reader never sees a count without its chunks.
	if err := s.secure.Set(ctx, key+chunkCountSuffix, strconv.Itoa(len(chunks))); err != nil {
		return fmt.Errorf("writing chunk count: %w", err)
	}
	for i := len(chunks); i < prev; i++ {
		if err := s.secure.Delete(ctx, chunkKey(key, i)); err != nil {
			return fmt.Errorf("dropping stale chunk %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) readSecure(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.secure.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if ok {
		return v, true, nil
	}

	n, err := s.chunkCount(ctx, key)
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		return "", false, nil
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		c, ok, err := s.secure.Get(ctx, chunkKey(key, i))
		if err != nil {
			return "", false, fmt.Errorf("reading chunk %d: %w", i, err)
		}
		if !ok {
			// Partial write or partial delete; treat as absent.
			return "", false, nil
		}
		b.WriteString(c)
	}
	return b.String(), true, nil
}

func (s *Store) deleteSecure(ctx context.Context, key string) error {
	if err := s.secure.Delete(ctx, key); err != nil {
		return err
	}
	n, err := s.chunkCount(ctx, key)
	if err != nil {
		n = 0
	}
	return s.dropChunks(ctx, key, 0, n)
}

// dropChunks deletes chunks [from, to) and the count key.
func (s *Store) dropChunks(ctx context.Context, key string, from, to int) error {
	for i := from; i < to; i++ {
		if err := s.secure.Delete(ctx, chunkKey(key, i)); err != nil {
			return fmt.Errorf("deleting chunk %d: %w", i, err)
		}
	}
	return s.secure.Delete(ctx, key+chunkCountSuffix)
}
