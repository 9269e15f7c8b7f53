// Package policy loads the PolicyDocument and evaluates it against a
// caller/region/env context and the set of sensitivity categories a
// payload's spans belong to.
package policy

import (
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	dErrors "llmfirewall/pkg/errors"
)

// Action is the outcome the policy engine assigns to a request.
type Action string

const (
	ActionBlock        Action = "block"
	ActionRedact       Action = "redact"
	ActionInternalOnly Action = "internal_only"
	ActionAllow        Action = "allow"
)

// RegionRouting describes model routing for one region.
type RegionRouting struct {
	AllowExternal     bool     `yaml:"allow_external"`
	PreferredModels   []string `yaml:"preferred_models"`
	InternalFallback  []string `yaml:"internal_fallback"`
	DataResidency     string   `yaml:"data_residency,omitempty"`
}

// CallerRouting describes detokenize permissions and force-redact for one
// caller identity.
type CallerRouting struct {
	AllowCategories []string `yaml:"allow_categories"`
	MaxDetokenize   bool     `yaml:"max_detokenize"`
	ForceRedact     bool     `yaml:"force_redact"`
}

// Match selects which category a route applies to. An empty Category means
// "no category present" — the route matches only a payload with zero
// detected categories (spec.md §9 resolves the ambiguity this way).
type Match struct {
	Category string `yaml:"category"`
}

// AppliesTo restricts a route to a set of regions/callers, or "*" for all.
type AppliesTo struct {
	Regions []string `yaml:"regions"`
	Callers []string `yaml:"callers"`
}

// Route is one entry in the ordered route list; first match wins.
type Route struct {
	Match          Match     `yaml:"match"`
	Action         Action    `yaml:"action"`
	AppliesTo      AppliesTo `yaml:"applies_to"`
	AllowModels    []string  `yaml:"allow_models"`
	AllowCategories []string `yaml:"allow_categories"`
}

// Document is the loaded, immutable policy document.
type Document struct {
	Version           int                      `yaml:"version"`
	RestrictedRegions []string                 `yaml:"restricted_regions"`
	RegionRouting     map[string]RegionRouting `yaml:"region_routing"`
	TrustedCallers    []string                 `yaml:"trusted_callers"`
	CallerRouting     map[string]CallerRouting `yaml:"caller_routing"`
	Routes            []Route                  `yaml:"routes"`

	restrictedSet map[string]struct{}
	trustedSet    map[string]struct{}
}

// Load reads and parses a PolicyDocument from a YAML file. A malformed file
// is a fatal startup error (spec.md §6), surfaced here as CodeConfigError.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfigError, "reading policy file")
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfigError, "parsing policy file")
	}

	doc.index()
	return &doc, nil
}

func (d *Document) index() {
	d.restrictedSet = toSet(d.RestrictedRegions)
	d.trustedSet = toSet(d.TrustedCallers)
}

func toSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, i := range items {
		s[i] = struct{}{}
	}
	return s
}

// IsRestrictedRegion reports whether region forces internal_only routing.
func (d *Document) IsRestrictedRegion(region string) bool {
	_, ok := d.restrictedSet[region]
	return ok
}

// IsTrustedCaller reports whether caller may invoke detokenize.
func (d *Document) IsTrustedCaller(caller string) bool {
	_, ok := d.trustedSet[caller]
	return ok
}

// LoadWithOverride loads the base document at path, then — if overridePath
// is non-empty — loads a second, partial document and merges it onto the
// base with dario.cat/mergo, letting an operator ship a caller- or
// environment-specific overlay (e.g. a stricter routes list for one region)
// without duplicating the whole base file. Override fields win; zero-value
// fields in the override leave the base untouched. Slices (routes,
// restricted_regions, ...) are replaced wholesale rather than appended, so an
// override that sets routes fully owns the merged document's routing order.
func LoadWithOverride(path, overridePath string) (*Document, error) {
	base, err := Load(path)
	if err != nil {
		return nil, err
	}
	if overridePath == "" {
		return base, nil
	}

	raw, err := os.ReadFile(overridePath)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfigError, "reading policy override file")
	}
	var override Document
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfigError, "parsing policy override file")
	}
	if err := mergo.Merge(base, &override, mergo.WithOverride); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfigError, "merging policy override")
	}

	base.index()
	return base, nil
}

// reload replaces the document's fields in place from a freshly loaded and
// merged copy, re-indexing the derived sets. Not wired to any HTTP route in
// this build — nothing in the external interface calls for a reload
// endpoint — but kept as the seam an operator tool would use.
func (d *Document) reload(path, overridePath string) error {
	fresh, err := LoadWithOverride(path, overridePath)
	if err != nil {
		return err
	}
	*d = *fresh
	return nil
}
