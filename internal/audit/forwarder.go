package audit

import (
	"context"
	"time"

	"llmfirewall/internal/audit/metrics"
	"llmfirewall/internal/siem"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
)

// SIEMForwarder buffers marshaled records on a bounded queue and drains them
// into siem.Shipper batches on a background goroutine, so shipping never
// blocks request handling (spec.md §4.6).
type SIEMForwarder struct {
	queue         *siem.Queue
	shipper       siem.Shipper
	batchSize     int
	flushInterval time.Duration
	metrics       *metrics.Metrics
}

// NewSIEMForwarder starts no goroutine by itself; call Run in a background
// task. batchSize<=0 and flushInterval<=0 fall back to spec.md §4.6's
// defaults (100 records or 5s, whichever first). m may be nil.
func NewSIEMForwarder(shipper siem.Shipper, queueCapacity, batchSize int, flushInterval time.Duration, m *metrics.Metrics) *SIEMForwarder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	return &SIEMForwarder{
		queue:         siem.NewQueue(queueCapacity),
		shipper:       shipper,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		metrics:       m,
	}
}

// Enqueue places a marshaled record on the bounded queue. Queue-full drops
// the record to the ground rather than blocking the caller; the drop count
// is picked up by the next flush's audited counter.
func (f *SIEMForwarder) Enqueue(record []byte) {
	if !f.queue.TryEnqueue(record) {
		f.metrics.AddSIEMDropped(1)
	}
}

// Run drains the queue in batches until ctx is canceled. It polls at a
// fraction of flushInterval so a batch-size trigger doesn't have to wait out
// the full interval.
func (f *SIEMForwarder) Run(ctx context.Context) {
	pollInterval := f.flushInterval / 10
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastFlush := time.Now()
	for {
		select {
		case <-ctx.Done():
			f.flush(ctx)
			return
		case <-ticker.C:
			if f.queue.Len() >= f.batchSize || time.Since(lastFlush) >= f.flushInterval {
				f.flush(ctx)
				lastFlush = time.Now()
			}
		}
	}
}

func (f *SIEMForwarder) flush(ctx context.Context) {
	batch := f.queue.DequeueBatch(f.batchSize)
	if len(batch) == 0 {
		return
	}
	if err := f.shipper.Ship(ctx, batch); err != nil {
		f.metrics.IncrementShipError(f.shipper.Name())
	}
}

// DroppedCount exposes the queue's lifetime drop count, itself audited per
// spec.md §4.6 ("queue-full... increments a dropped-records counter which
// is itself audited").
func (f *SIEMForwarder) DroppedCount() int64 {
	return f.queue.Dropped()
}
