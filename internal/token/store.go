package token

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"llmfirewall/internal/token/metrics"
	"llmfirewall/pkg/platform/sentinel"
)

// Store is the capability set every token backend implements (spec.md §4.4).
type Store interface {
	Put(ctx context.Context, handle string, record *Record) error
	Get(ctx context.Context, handle string) (*Record, error)
	ExtendTTL(ctx context.Context, handle string, ttl time.Duration) error
}

// InMemory is a process-local Store guarded by a reader-writer lock, with a
// background sweep removing expired records every TTL/10. Single-node only
// (spec.md §4.4).
type InMemory struct {
	mu      sync.RWMutex
	records map[string]*Record
	metrics *metrics.Metrics

	stopOnce sync.Once
	stop     chan struct{}
}

// NewInMemory starts the sweep goroutine at sweepInterval and returns a
// ready-to-use store. Call Close to stop the sweep.
func NewInMemory(sweepInterval time.Duration, m *metrics.Metrics) *InMemory {
	s := &InMemory{
		records: make(map[string]*Record),
		metrics: m,
		stop:    make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

func (s *InMemory) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *InMemory) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for handle, rec := range s.records {
		if now.After(rec.ExpiresAt) {
			delete(s.records, handle)
		}
	}
	if s.metrics != nil {
		s.metrics.SetRecordCount(len(s.records))
	}
}

// Close stops the background sweep. Safe to call multiple times.
func (s *InMemory) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *InMemory) Put(_ context.Context, handle string, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[handle]; ok {
		for placeholder, entry := range record.Entries {
			existing.Entries[placeholder] = entry
		}
		if record.ExpiresAt.After(existing.ExpiresAt) {
			existing.ExpiresAt = record.ExpiresAt
		}
		return nil
	}
	s.records[handle] = record
	return nil
}

func (s *InMemory) Get(_ context.Context, handle string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[handle]
	if !ok || time.Now().After(rec.ExpiresAt) {
		return nil, fmt.Errorf("handle %q: %w", handle, sentinel.ErrNotFound)
	}
	return rec, nil
}

func (s *InMemory) ExtendTTL(_ context.Context, handle string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[handle]
	if !ok {
		return fmt.Errorf("handle %q: %w", handle, sentinel.ErrNotFound)
	}
	rec.ExpiresAt = time.Now().Add(ttl)
	return nil
}
