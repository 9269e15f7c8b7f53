package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"llmfirewall/internal/audit/metrics"
	dErrors "llmfirewall/pkg/errors"
)

// Logger appends Records to a local JSON-lines file and optionally forwards
// each one to a Shipper. Grounded on
// original_source/mcp_redaction/audit.py's AuditLogger.write/query.
type Logger struct {
	path string

	mu sync.Mutex
	f  *os.File

	shipper Shipper
	metrics *metrics.Metrics
}

// Shipper accepts one marshaled record at a time, off the request path.
// Implemented by (*audit.SIEMForwarder).
type Shipper interface {
	Enqueue(record []byte)
}

// NewLogger opens path in append mode, creating parent directories as
// needed. shipper and m may be nil.
func NewLogger(path string, shipper Shipper, m *metrics.Metrics) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfigError, "creating audit log directory")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfigError, "opening audit log file")
	}
	return &Logger{path: path, f: f, shipper: shipper, metrics: m}, nil
}

// Write appends record as one JSON line. Concurrent writers are serialized
// by the kernel's O_APPEND semantics plus a mutex to keep one write call
// atomic at line granularity (spec.md §4.6).
func (l *Logger) Write(record Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshaling audit record")
	}
	line = append(line, '\n')

	l.mu.Lock()
	_, err = l.f.Write(line)
	l.mu.Unlock()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "writing audit record")
	}

	l.metrics.IncrementRecordsWritten()

	if l.shipper != nil {
		l.shipper.Enqueue(line[:len(line)-1])
	}
	return nil
}

// Close closes the underlying file handle.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Query scans the local log in reverse-chronological order for records
// whose raw JSON line contains q as a case-insensitive substring, returning
// up to limit matches. An empty q matches every line.
func (l *Logger) Query(q string, limit int) ([]Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "opening audit log for query")
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "scanning audit log")
	}

	needle := strings.ToLower(q)
	results := make([]Record, 0, limit)
	for i := len(lines) - 1; i >= 0 && len(results) < limit; i-- {
		line := lines[i]
		if needle != "" && !strings.Contains(strings.ToLower(line), needle) {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		results = append(results, rec)
	}
	return results, nil
}
