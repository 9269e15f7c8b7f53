package siem

import "context"

// Shipper posts a batch of pre-marshaled audit records to an external sink.
// Implementations should treat the batch as opaque JSON bytes; siem only
// guarantees each entry is a single JSON object.
type Shipper interface {
	Ship(ctx context.Context, batch [][]byte) error
	// Name identifies the sink for logging and circuit breaker naming.
	Name() string
}

// NopShipper discards every batch. Used when SIEM_TYPE=none: the local
// audit log is still written, only the optional forwarding step is skipped.
type NopShipper struct{}

func (NopShipper) Ship(_ context.Context, _ [][]byte) error { return nil }
func (NopShipper) Name() string                             { return "none" }
