// Package token generates reversible placeholders for detected spans and
// stores the mapping back to the original values behind an opaque handle.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is the lifetime of a TokenRecord absent an override (spec.md §3).
const DefaultTTL = 24 * time.Hour

// Entry is one placeholder's original value, kept behind a handle.
type Entry struct {
	Type      string
	Original  string
	CreatedAt time.Time
}

// Record is the full set of placeholder→original mappings created by one
// or more redact calls sharing a conversation ID.
type Record struct {
	Handle         string
	ConversationID string
	Entries        map[string]Entry // placeholder -> Entry
	ExpiresAt      time.Time
}

// Generator derives deterministic placeholders from a process-wide salt.
// A Generator is immutable and safe for concurrent use.
type Generator struct {
	salt []byte
}

// NewGenerator builds a Generator from the salt loaded at startup from
// SALT_ENV. salt must be at least 16 bytes; callers enforce this at config
// load time (internal/platform/config).
func NewGenerator(salt []byte) *Generator {
	cp := make([]byte, len(salt))
	copy(cp, salt)
	return &Generator{salt: cp}
}

// Placeholder returns «token:TYPE:HASH4» where HASH4 is the first 8 hex
// characters of HMAC-SHA256(salt, conversationID || 0x00 || typ || 0x00 || original).
// Deterministic: the same (conversationID, typ, original) always yields the
// same placeholder under one Generator (spec.md §3, testable property 1).
func (g *Generator) Placeholder(conversationID, typ, original string) string {
	mac := hmac.New(sha256.New, g.salt)
	mac.Write([]byte(conversationID))
	mac.Write([]byte{0})
	mac.Write([]byte(typ))
	mac.Write([]byte{0})
	mac.Write([]byte(original))
	sum := mac.Sum(nil)
	hash8 := hex.EncodeToString(sum)[:8]
	return fmt.Sprintf("«token:%s:%s»", strings.ToUpper(typ), hash8)
}

// NewHandle mints a random 128-bit, base32-encoded opaque handle, drawing
// its entropy from a v4 UUID (the teacher's idiom for opaque IDs throughout
// the stack).
func NewHandle() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	buf, _ := id.MarshalBinary()
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)), nil
}
