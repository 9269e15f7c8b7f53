// Package remote implements the encrypted, Redis-backed token store
// backend: spec.md §4.4's "encrypted remote" option.
package remote

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"crypto/sha256"

	"github.com/redis/go-redis/v9"

	"llmfirewall/internal/token"
	dErrors "llmfirewall/pkg/errors"
	"llmfirewall/pkg/platform/sentinel"
)

const (
	keyLength      = 32 // AES-256
	pbkdf2Rounds   = 100000
	nonceLength    = 12 // 96-bit GCM nonce
	keyPrefix      = "llmfw:tokenmap:"
)

// fixedSalt is the 16-byte deployment-wide PBKDF2 salt. Fixed per spec.md
// §4.4 ("a 16-byte salt fixed per deployment") so that the same
// ENCRYPTION_KEY always derives the same AES key across process restarts.
var fixedSalt = []byte("llmfirewall-salt")

// Store is a Store backed by Redis, encrypting every Record with
// AES-256-GCM before it leaves the process.
type Store struct {
	client *redis.Client
	aead   cipher.AEAD
}

// New derives the AES-256 key from encryptionKey via PBKDF2-HMAC-SHA256
// (>=100000 iterations) and builds the GCM AEAD once.
func New(client *redis.Client, encryptionKey []byte) (*Store, error) {
	derived := pbkdf2.Key(encryptionKey, fixedSalt, pbkdf2Rounds, keyLength, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfigError, "building AES cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfigError, "building GCM AEAD")
	}

	return &Store{client: client, aead: aead}, nil
}

func (s *Store) redisKey(handle string) string {
	return keyPrefix + handle
}

// Put serializes record to JSON, encrypts it with a fresh random nonce, and
// stores nonce||ciphertext||tag at the record's TTL (spec.md §4.4).
func (s *Store) Put(ctx context.Context, handle string, record *token.Record) error {
	ttlCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	existing, err := s.getRaw(ttlCtx, handle)
	if err == nil && existing != nil {
		for placeholder, entry := range record.Entries {
			existing.Entries[placeholder] = entry
		}
		if record.ExpiresAt.After(existing.ExpiresAt) {
			existing.ExpiresAt = record.ExpiresAt
		}
		record = existing
	}

	plaintext, err := json.Marshal(record)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshaling token record")
	}

	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "generating nonce")
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)

	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ttlCtx, s.redisKey(handle), sealed, ttl).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBackendUnavailable, "writing token record to redis")
	}
	return nil
}

// Get fetches, decrypts, and unmarshals a Record. A tag-verification
// failure (possible tampering) is a hard error per spec.md §4.4, surfaced
// as CodeBackendUnavailable rather than silently discarded.
func (s *Store) Get(ctx context.Context, handle string) (*token.Record, error) {
	ttlCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	rec, err := s.getRaw(ttlCtx, handle)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("handle %q: %w", handle, sentinel.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) getRaw(ctx context.Context, handle string) (*token.Record, error) {
	sealed, err := s.client.Get(ctx, s.redisKey(handle)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token record from redis: %w: %w", sentinel.ErrUnavailable, err)
	}

	if len(sealed) < nonceLength {
		return nil, dErrors.New(dErrors.CodeBackendUnavailable, "stored token record is truncated")
	}
	nonce, ciphertext := sealed[:nonceLength], sealed[nonceLength:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBackendUnavailable, "token record failed tag verification, possible tampering")
	}

	var rec token.Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "unmarshaling token record")
	}
	return &rec, nil
}

// ExtendTTL re-keys the record with a fresh TTL, preserving its contents.
func (s *Store) ExtendTTL(ctx context.Context, handle string, ttl time.Duration) error {
	ttlCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	rec, err := s.getRaw(ttlCtx, handle)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("handle %q: %w", handle, sentinel.ErrNotFound)
	}
	rec.ExpiresAt = time.Now().Add(ttl)
	return s.Put(ttlCtx, handle, rec)
}
