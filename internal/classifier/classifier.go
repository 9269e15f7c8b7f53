// Package classifier scores a payload for export-control sensitivity by
// counting case-insensitive matches against a fixed aviation/ITAR keyword
// vocabulary. It never rejects or rewrites the payload; its only output is
// an advisory span the policy engine may act on.
package classifier

import (
	"regexp"

	"llmfirewall/internal/detector"
)

// DefaultThreshold is the minimum keyword match count required to emit an
// export_control span, per spec.md §4.2.
const DefaultThreshold = 2

// keywordPatterns is the fixed aviation/ITAR vocabulary from spec.md §4.2,
// grounded on original_source/mcp_redaction/classifier.py's AVIATION_KEYWORDS.
var keywordPatterns = compilePatterns([]string{
	`\b(?:eVTOL|vertical[\s-]?take[\s-]?off|VTOL)\b`,
	`\b(?:aircraft[\s-]?design|airframe|propulsion[\s-]?system|propulsion)\b`,
	`\b(?:flight[\s-]?control|avionics|autopilot)\b`,
	`\b(?:aerodynamic|aerodynamics|lift[\s-]?coefficient)\b`,
	`\b(?:FAA|Federal[\s-]?Aviation[\s-]?Administration)\b`,
	`\b(?:Part[\s-]?23|Part[\s-]?27|Part[\s-]?29|Part[\s-]?33)\b`,
	`\b(?:type[\s-]?certificate|TC|STC|airworthiness)\b`,
	`\b(?:ITAR|International[\s-]?Traffic[\s-]?in[\s-]?Arms)\b`,
	`\b(?:EAR|Export[\s-]?Administration[\s-]?Regulations)\b`,
	`\b(?:ECCN|export[\s-]?control)\b`,
	`\b(?:battery[\s-]?management|BMS|power[\s-]?distribution)\b`,
	`\b(?:electric[\s-]?motor|propeller|rotor[\s-]?blade)\b`,
	`\b(?:energy[\s-]?density|specific[\s-]?power)\b`,
	`\b(?:flight[\s-]?envelope|V-speed|cruise[\s-]?speed)\b`,
	`\b(?:payload[\s-]?capacity|range[\s-]?calculation)\b`,
	`\b(?:takeoff[\s-]?weight|MTOW|maximum[\s-]?takeoff)\b`,
	`\b(?:composite[\s-]?material|carbon[\s-]?fiber|CFRP|composite)\b`,
	`\b(?:manufacturing[\s-]?process|tooling|assembly[\s-]?jig)\b`,
	`\b(?:quality[\s-]?assurance|AS9100|aerospace[\s-]?standard)\b`,
})

func compilePatterns(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile("(?i)"+e))
	}
	return out
}

// Classifier scores payloads for export-control sensitivity.
type Classifier struct {
	threshold int
}

// New builds a Classifier with the given match-count threshold. threshold
// <= 0 falls back to DefaultThreshold.
func New(threshold int) *Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{threshold: threshold}
}

// Classify counts keyword matches in payload and, if the count meets the
// threshold, returns a single export_control span covering the whole
// payload. Confidence is min(1.0, matches/(threshold*3)), per spec.md §4.2.
func (c *Classifier) Classify(payload string) *detector.Span {
	matches := 0
	for _, p := range keywordPatterns {
		matches += len(p.FindAllStringIndex(payload, -1))
	}

	if matches < c.threshold {
		return nil
	}

	confidence := float64(matches) / float64(c.threshold*3)
	if confidence > 1.0 {
		confidence = 1.0
	}

	return &detector.Span{
		Start:      0,
		End:        len(payload),
		Category:   detector.CategoryExportControl,
		Type:       "EXPORT_CONTROL_KEYWORDS",
		Confidence: confidence,
	}
}
