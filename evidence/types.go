// Package evidence implements claim/support/contradiction aggregation and
// the admission thresholds used both to gate memory writes and to feed the
// post-execution policy engine.
package evidence

// VerdictType classifies a single claim-level judgement.
type VerdictType string

const (
	VerdictSupported    VerdictType = "supported"
	VerdictContradicted VerdictType = "contradicted"
	VerdictNeutral      VerdictType = "neutral"
)

// Verdict is a claim-level judgement with a confidence score.
type Verdict struct {
	ClaimID       string      `json:"claim_id"`
	Verdict       VerdictType `json:"verdict"`
	Confidence    float64     `json:"confidence"`
	NeedsCitation bool        `json:"needs_citation"`
}

// Support is a single piece of corroborating evidence for a claim.
type Support struct {
	ClaimID    string  `json:"claim_id"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Contradiction is a single piece of conflicting evidence against a claim.
type Contradiction struct {
	ClaimID    string  `json:"claim_id"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Evidence is the structured bundle a verify-capable tool returns, or that
// an assert/mem.write node supplies for admission checking.
type Evidence struct {
	Claims      []string        `json:"claims,omitempty"`
	Supports    []Support       `json:"supports,omitempty"`
	Contradicts []Contradiction `json:"contradicts,omitempty"`
	Verdicts    []Verdict       `json:"verdicts,omitempty"`
}

// VerificationResult is the summary produced by Verify, used both for
// memory-write admission and for the post-execution policy engine.
type VerificationResult struct {
	TotalClaims         int     `json:"total_claims"`
	SupportedClaims     int     `json:"supported_claims"`
	ContradictedClaims  int     `json:"contradicted_claims"`
	MeanConfidence      float64 `json:"mean_confidence"`
	NeedsCitationCount  int     `json:"needs_citation_count"`
	MaxConfidence       float64 `json:"max_confidence"`
	MinConfidence       float64 `json:"min_confidence"`
}
