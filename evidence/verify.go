package evidence

import (
	"fmt"

	"github.com/ampkernel/amp/kernelerr"
)

const op = "evidence.Verify"

// Verify aggregates an Evidence bundle into a VerificationResult.
//
// Global fields (total_claims, supported_claims, contradicted_claims,
// mean/max/min confidence, needs_citation_count) are computed directly over
// Verdicts, per the verifier's contract. Separately, for the per-claim
// support accounting used by ValidateForStorage, a claim is considered
// supported if it appears in Supports, or if a verdict for that claim is
// "supported". Contradictions are not counted per claim.
func Verify(ev Evidence) VerificationResult {
	var result VerificationResult

	result.TotalClaims = len(ev.Verdicts)
	if result.TotalClaims == 0 {
		return result
	}

	var sumConfidence float64
	result.MaxConfidence = ev.Verdicts[0].Confidence
	result.MinConfidence = ev.Verdicts[0].Confidence

	for _, v := range ev.Verdicts {
		switch v.Verdict {
		case VerdictSupported:
			result.SupportedClaims++
		case VerdictContradicted:
			result.ContradictedClaims++
		}
		if v.NeedsCitation {
			result.NeedsCitationCount++
		}
		sumConfidence += v.Confidence
		if v.Confidence > result.MaxConfidence {
			result.MaxConfidence = v.Confidence
		}
		if v.Confidence < result.MinConfidence {
			result.MinConfidence = v.Confidence
		}
	}

	result.MeanConfidence = sumConfidence / float64(result.TotalClaims)
	return result
}

// claimSupportCounts returns, for every claim id referenced anywhere in ev
// (claims, supports, contradicts, or verdicts), how many supporting entries
// back it. Contradicting entries only register the claim id, with no count.
func claimSupportCounts(ev Evidence) map[string]int {
	counts := make(map[string]int)
	touch := func(id string) {
		if _, ok := counts[id]; !ok {
			counts[id] = 0
		}
	}

	for _, id := range ev.Claims {
		touch(id)
	}
	for _, s := range ev.Supports {
		touch(s.ClaimID)
		counts[s.ClaimID]++
	}
	for _, c := range ev.Contradicts {
		touch(c.ClaimID)
	}
	for _, v := range ev.Verdicts {
		touch(v.ClaimID)
		if v.Verdict == VerdictSupported {
			counts[v.ClaimID]++
		}
	}
	return counts
}

// ValidateForStorage applies the admission thresholds used to gate memory
// writes: the mean confidence must clear min, every referenced claim must
// have at least one support, and the contradiction ratio over verdicts must
// not exceed 0.5.
func ValidateForStorage(ev Evidence, min float64) error {
	summary := Verify(ev)

	if summary.MeanConfidence < min {
		return kernelerr.InsufficientConfidence(op,
			fmt.Sprintf("mean confidence %.4f below required %.4f", summary.MeanConfidence, min))
	}

	for claimID, supports := range claimSupportCounts(ev) {
		if supports == 0 {
			return kernelerr.MissingSupport(op, fmt.Sprintf("claim %q has no supporting evidence", claimID))
		}
	}

	if summary.TotalClaims > 0 {
		ratio := float64(summary.ContradictedClaims) / float64(summary.TotalClaims)
		if ratio > 0.5 {
			return kernelerr.TooManyContradictions(op,
				fmt.Sprintf("contradiction ratio %.2f exceeds 0.5", ratio))
		}
	}

	return nil
}
