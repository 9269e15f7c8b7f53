//go:build integration

package remote

import (
	"context"
	"testing"
	"time"

	"llmfirewall/internal/token"
	"llmfirewall/pkg/testutil/containers"
)

func TestStorePutGetRoundTripAgainstRealRedis(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	t.Cleanup(func() { _ = rc.FlushAll(ctx) })

	store, err := New(rc.Client, []byte("integration-test-encryption-key"))
	if err != nil {
		t.Fatalf("building redis store: %v", err)
	}

	record := &token.Record{
		Handle:         "h1",
		ConversationID: "c1",
		ExpiresAt:      time.Now().Add(time.Hour),
		Entries: map[string]token.Entry{
			"«token:EMAIL:deadbeef»": {Type: "EMAIL", Original: "alice@ex.com", CreatedAt: time.Now()},
		},
	}

	if err := store.Put(ctx, "h1", record); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "h1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	entry, ok := got.Entries["«token:EMAIL:deadbeef»"]
	if !ok {
		t.Fatalf("expected entry to round-trip, entries: %+v", got.Entries)
	}
	if entry.Original != "alice@ex.com" {
		t.Fatalf("expected original alice@ex.com, got %q", entry.Original)
	}
}

func TestStoreGetUnknownHandleFails(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	t.Cleanup(func() { _ = rc.FlushAll(ctx) })

	store, err := New(rc.Client, []byte("integration-test-encryption-key"))
	if err != nil {
		t.Fatalf("building redis store: %v", err)
	}

	if _, err := store.Get(ctx, "does-not-exist"); err == nil {
		t.Fatalf("expected an error for an unknown handle")
	}
}

func TestStoreExtendTTL(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	t.Cleanup(func() { _ = rc.FlushAll(ctx) })

	store, err := New(rc.Client, []byte("integration-test-encryption-key"))
	if err != nil {
		t.Fatalf("building redis store: %v", err)
	}

	record := &token.Record{
		Handle:    "h2",
		ExpiresAt: time.Now().Add(time.Second),
		Entries:   map[string]token.Entry{},
	}
	if err := store.Put(ctx, "h2", record); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.ExtendTTL(ctx, "h2", time.Hour); err != nil {
		t.Fatalf("ExtendTTL: %v", err)
	}

	got, err := store.Get(ctx, "h2")
	if err != nil {
		t.Fatalf("Get after ExtendTTL: %v", err)
	}
	if time.Until(got.ExpiresAt) < 30*time.Minute {
		t.Fatalf("expected ExtendTTL to push expiry well into the future, got %v", got.ExpiresAt)
	}
}
