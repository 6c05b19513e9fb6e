// Package toolspec defines a remote tool's self-description and the HTTP
// client used to fetch specs and invoke tools.
package toolspec

// Schema is a small recursive JSON-schema-like description used for a
// tool's input/output shape.
type Schema struct {
	Type       string            `json:"type,omitempty"`
	Properties map[string]Schema `json:"properties,omitempty"`
	Required   []string          `json:"required,omitempty"`
	Items      *Schema           `json:"items,omitempty"`
}

// IOSpec describes a tool's input and output schemas.
type IOSpec struct {
	Input  Schema `json:"input"`
	Output Schema `json:"output"`
}

// Constraints describes a tool's operating envelope: per-call token/cost/
// latency figures used by both the pre-flight estimator and the live
// accountant.
type Constraints struct {
	InputTokensMax *int     `json:"input_tokens_max,omitempty"`
	LatencyP50Ms   *float64 `json:"latency_p50_ms,omitempty"`
	CostPerCallUSD *float64 `json:"cost_per_call_usd,omitempty"`
	RateLimitQPS   *float64 `json:"rate_limit_qps,omitempty"`
	SideEffects    *bool    `json:"side_effects,omitempty"`
}

// Provenance describes whether a tool's responses require attribution.
type Provenance struct {
	AttributionRequired bool `json:"attribution_required,omitempty"`
}

// Quality carries advisory metadata about a tool's data freshness/coverage.
type Quality struct {
	FreshnessWindow string   `json:"freshness_window,omitempty"`
	CoverageTags    []string `json:"coverage_tags,omitempty"`
}

// Policy carries deny-list patterns enforced before every invocation.
type Policy struct {
	DenyIf []string `json:"deny_if,omitempty"`
}

// ToolSpec is a remote tool's self-description. ToolSpecs are fetched once
// per execution and cached in the execution context; they are never
// mutated after registration.
type ToolSpec struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	IO           IOSpec       `json:"io"`
	Capabilities []string     `json:"capabilities,omitempty"`
	Constraints  Constraints  `json:"constraints,omitempty"`
	Provenance   Provenance   `json:"provenance,omitempty"`
	Quality      Quality      `json:"quality,omitempty"`
	Policy       Policy       `json:"policy,omitempty"`
}

// CostPerCall returns the spec's configured cost, or 0 if unset.
func (s ToolSpec) CostPerCall() float64 {
	if s.Constraints.CostPerCallUSD != nil {
		return *s.Constraints.CostPerCallUSD
	}
	return 0
}

// LatencyP50 returns the spec's configured p50 latency in ms, or 0 if unset.
func (s ToolSpec) LatencyP50() float64 {
	if s.Constraints.LatencyP50Ms != nil {
		return *s.Constraints.LatencyP50Ms
	}
	return 0
}

// InputTokensMax returns the spec's configured token ceiling, or 0 if unset.
func (s ToolSpec) InputTokensMax() int {
	if s.Constraints.InputTokensMax != nil {
		return *s.Constraints.InputTokensMax
	}
	return 0
}
