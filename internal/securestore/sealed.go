// sealed.go -- Encrypted keystore backend.
//
// SealedKV plays the role of the platform secure keystore: every value is
// sealed with XChaCha20-Poly1305 under a key derived from the device key, and
// values above MaxSealedValue are rejected (Store chunks below that ceiling).
package securestore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MaxSealedValue is the per-value plaintext ceiling of the keystore, in bytes.
const MaxSealedValue = 2048

// DeviceKeyName is the key under which the 32-byte device key is persisted.
const DeviceKeyName = "session-encryption-key"

// deviceKeyLen is the device key size in bytes.
const deviceKeyLen = 32

// hkdfInfo binds derived keys to this use; bump the suffix to rotate.
const hkdfInfo = "ferry-keystore-v1"

// ErrInvalidKeyLength is returned when the device key is not 32 bytes.
var ErrInvalidKeyLength = errors.New("invalid device key length")

// SealedKV encrypts values before handing them to inner.
// The key name is bound as associated data so ciphertexts cannot be swapped between keys.
type SealedKV struct {
	inner KV
	aead  cipher.AEAD
}

// NewSealedKV derives the sealing key from deviceKey and wraps inner.
func NewSealedKV(inner KV, deviceKey []byte) (*SealedKV, error) {
	if len(deviceKey) != deviceKeyLen {
		return nil, ErrInvalidKeyLength
	}
	h := hkdf.New(sha256.New, deviceKey, nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("deriving sealing key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating aead: %w", err)
	}
	return &SealedKV{inner: inner, aead: aead}, nil
}

func (s *SealedKV) Get(ctx context.Context, key string) (string, bool, error) {
	enc, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	raw, err := base64.RawStdEncoding.DecodeString(enc)
	if err != nil {
		return "", false, fmt.Errorf("%w: %q: bad encoding", ErrCorrupt, key)
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns+s.aead.Overhead() {
		return "", false, fmt.Errorf("%w: %q: truncated", ErrCorrupt, key)
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], []byte(key))
	if err != nil {
		return "", false, fmt.Errorf("%w: %q: %v", ErrCorrupt, key, err)
	}
	return string(plain), true, nil
}

// Set seals value. Returns ErrValueTooLarge above MaxSealedValue.
func (s *SealedKV) Set(ctx context.Context, key, value string) error {
	if len(value) > MaxSealedValue {
		return fmt.Errorf("%w: %q is %d bytes", ErrValueTooLarge, key, len(value))
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return s.inner.Set(ctx, key, base64.RawStdEncoding.EncodeToString(sealed))
}

func (s *SealedKV) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *SealedKV) Keys(ctx context.Context) ([]string, error) {
	return s.inner.Keys(ctx)
}

// LoadOrCreateDeviceKey returns the device key stored in kv, generating and
// persisting a fresh random key on first use.
func LoadOrCreateDeviceKey(ctx context.Context, kv KV) ([]byte, error) {
	enc, ok, err := kv.Get(ctx, DeviceKeyName)
	if err != nil {
		return nil, fmt.Errorf("loading device key: %w", err)
	}
	if ok {
		key, err := base64.RawStdEncoding.DecodeString(enc)
		if err != nil || len(key) != deviceKeyLen {
			return nil, fmt.Errorf("%w: device key", ErrCorrupt)
		}
		return key, nil
	}

	key := make([]byte, deviceKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating device key: %w", err)
	}
	if err := kv.Set(ctx, DeviceKeyName, base64.RawStdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("storing device key: %w", err)
	}
	return key, nil
}
