package detector

import (
	"time"
	"unicode/utf8"

	"llmfirewall/internal/detector/metrics"
	dErrors "llmfirewall/pkg/errors"
)

// Detector finds sensitive spans in payload strings using a fixed, immutable
// battery of regular expressions compiled once at construction.
type Detector struct {
	patterns []pattern
	metrics  *metrics.Metrics
}

// New compiles the pattern battery once. The returned Detector is immutable
// and safe for concurrent use across all request-handling workers. m may be
// nil, in which case metrics collection is skipped.
func New(m *metrics.Metrics) *Detector {
	return &Detector{patterns: buildPatterns(), metrics: m}
}

// Detect runs candidate generation, validation, and overlap resolution over
// payload, returning a non-overlapping, Start-ordered list of spans.
//
// Fails with CodeInvalidInput on malformed UTF-8, and with CodeDetectorTimeout
// if any single pattern exceeds its per-64KB time budget (spec.md §4.1).
func (d *Detector) Detect(payload string) ([]Span, error) {
	start := time.Now()
	defer func() { d.metrics.ObserveDetectLatency(time.Since(start)) }()

	if !utf8.ValidString(payload) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "payload is not valid UTF-8")
	}

	budget := time.Duration(perPatternBudget) * time.Millisecond * time.Duration((len(payload)/65536)+1)

	var candidates []Span
	for _, p := range d.patterns {
		matches, err := runWithBudget(p, payload, budget)
		if err != nil {
			d.metrics.IncrementTimeouts()
			return nil, err
		}
		candidates = append(candidates, matches...)
	}

	spans := resolveOverlaps(candidates)
	counts := make(map[Category]int)
	for _, s := range spans {
		counts[s.Category]++
	}
	for cat, n := range counts {
		d.metrics.IncrementSpansFound(string(cat), n)
	}

	return spans, nil
}

// runWithBudget runs one pattern's FindAllStringIndex off the calling
// goroutine so a pathological match can be bounded by budget without
// corrupting the caller's stack. Go's regexp package is RE2-based (linear
// time, no catastrophic backtracking), so timeout is a defensive ceiling,
// never practically reached — but the contract in spec.md §4.1 is honored.
func runWithBudget(p pattern, payload string, budget time.Duration) ([]Span, error) {
	type result struct {
		spans []Span
	}
	done := make(chan result, 1)

	go func() {
		var spans []Span
		for _, loc := range p.re.FindAllStringIndex(payload, -1) {
			start, end := loc[0], loc[1]
			matched := payload[start:end]
			if p.validate != nil && !p.validate(matched) {
				continue
			}
			spans = append(spans, Span{
				Start:      start,
				End:        end,
				Category:   p.Category,
				Type:       p.Type,
				Confidence: p.Confidence,
			})
		}
		done <- result{spans: spans}
	}()

	select {
	case r := <-done:
		return r.spans, nil
	case <-time.After(budget):
		return nil, dErrors.New(dErrors.CodeDetectorTimeout, "pattern "+p.Type+" exceeded its time budget")
	}
}
