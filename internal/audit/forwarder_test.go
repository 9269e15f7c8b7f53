package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type recordingShipper struct {
	mu      sync.Mutex
	batches [][][]byte
}

func (r *recordingShipper) Name() string { return "recording" }

func (r *recordingShipper) Ship(_ context.Context, batch [][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recordingShipper) totalShipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

type ForwarderSuite struct {
	suite.Suite
}

func TestForwarderSuite(t *testing.T) {
	suite.Run(t, new(ForwarderSuite))
}

func (s *ForwarderSuite) TestFlushesOnBatchSize() {
	shipper := &recordingShipper{}
	fwd := NewSIEMForwarder(shipper, 100, 3, time.Hour, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go fwd.Run(ctx)

	for i := 0; i < 3; i++ {
		fwd.Enqueue([]byte(`{"action":"redact"}`))
	}

	s.Eventually(func() bool {
		return shipper.totalShipped() == 3
	}, 250*time.Millisecond, 10*time.Millisecond)
}

func (s *ForwarderSuite) TestDropsWhenQueueFull() {
	shipper := &recordingShipper{}
	fwd := NewSIEMForwarder(shipper, 2, 100, time.Hour, nil)

	fwd.Enqueue([]byte(`{"a":1}`))
	fwd.Enqueue([]byte(`{"a":2}`))
	fwd.Enqueue([]byte(`{"a":3}`)) // dropped

	s.Equal(int64(1), fwd.DroppedCount())
}
