// Package policy implements the post-execution verdict the caller runs
// over a finished ExecutionContext: a pure function of evidence, tool
// specs, traces and variables that never mutates its input.
package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ampkernel/amp/evidence"
	"github.com/ampkernel/amp/kernelerr"
	"github.com/ampkernel/amp/toolspec"
	"github.com/ampkernel/amp/tracekit"
)

// Violation is one failed or flagged policy rule.
type Violation struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Action is an informational or confirmatory enforcement action, distinct
// from a Violation: it records that a check ran, not that it failed.
type Action struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// Verdict is the result of EnforcePolicies.
type Verdict struct {
	Violations          []Violation `json:"violations"`
	EnforcementActions  []Action    `json:"enforcement_actions"`
	Allowed             bool        `json:"allowed"`
}

// Input bundles everything EnforcePolicies reads from a finished
// ExecutionContext. Evidence is optional: a plan with no verify/assert
// evidence leaves it nil.
type Input struct {
	Evidence  *evidence.Evidence
	ToolSpecs map[string]toolspec.ToolSpec
	Traces    []*tracekit.Trace
	Variables map[string]interface{}
}

type budgetSummaryData struct {
	TotalLatencyMs  float64  `json:"total_latency_ms"`
	LatencyBudgetMs *float64 `json:"latency_budget_ms"`
	TotalCostUSD    float64  `json:"total_cost_usd"`
	CostCapUSD      *float64 `json:"cost_cap_usd"`
}

type policyViolationData struct {
	Description string `json:"description"`
}

// EnforcePolicies evaluates every rule against in and returns the final
// verdict. It performs no I/O and mutates none of its input.
func EnforcePolicies(in Input) Verdict {
	v := &Verdict{}

	if in.Evidence != nil {
		summary := evidence.Verify(*in.Evidence)
		if summary.MeanConfidence < 0.7 {
			v.warn("minimum_confidence", fmt.Sprintf("mean confidence %.4f below 0.7", summary.MeanConfidence))
		}
	}

	for name, spec := range in.ToolSpecs {
		for _, pattern := range spec.Policy.DenyIf {
			v.EnforcementActions = append(v.EnforcementActions, Action{Kind: "check_pattern", Detail: name + ": " + pattern})
		}
		if spec.Provenance.AttributionRequired {
			v.EnforcementActions = append(v.EnforcementActions, Action{Kind: "verify_attribution", Detail: name})
		}
	}

	budgetSummarySeen := false
	evidenceSummaryCount := 0

	for _, tr := range in.Traces {
		switch tr.EventType {
		case "policy_violation":
			var data policyViolationData
			_ = json.Unmarshal(tr.Data, &data)
			v.fail("tool_policy", data.Description)

		case "budget_summary":
			budgetSummarySeen = true
			var data budgetSummaryData
			_ = json.Unmarshal(tr.Data, &data)
			if data.LatencyBudgetMs != nil && data.TotalLatencyMs > *data.LatencyBudgetMs {
				v.fail("latency_budget", fmt.Sprintf("total latency %.2fms exceeded budget %.2fms", data.TotalLatencyMs, *data.LatencyBudgetMs))
			}
			if data.CostCapUSD != nil && data.TotalCostUSD > *data.CostCapUSD {
				v.fail("cost_cap", fmt.Sprintf("total cost $%.4f exceeded cap $%.4f", data.TotalCostUSD, *data.CostCapUSD))
			}

		case "evidence_summary":
			evidenceSummaryCount++
			var summary evidence.VerificationResult
			if err := json.Unmarshal(tr.Data, &summary); err != nil {
				v.fail("invalid_evidence_summary", "evidence_summary trace data did not parse: "+err.Error())
				continue
			}
			v.evaluateSummary("trace", summary)

		default:
			if tr.CostUSD != nil && *tr.CostUSD > 1.0 {
				v.warn("cost_limit", fmt.Sprintf("trace cost $%.4f exceeded $1.00", *tr.CostUSD))
			}
		}
	}

	if !budgetSummarySeen {
		v.EnforcementActions = append(v.EnforcementActions, Action{Kind: "emit_budget_summary"})
	}

	for key, val := range in.Variables {
		if !looksLikeSummaryKey(key) {
			continue
		}
		raw, err := json.Marshal(val)
		if err != nil {
			continue
		}
		var summary evidence.VerificationResult
		if err := json.Unmarshal(raw, &summary); err != nil {
			v.fail("invalid_evidence_summary", fmt.Sprintf("variable %q did not parse as a verification summary", key))
			continue
		}
		evidenceSummaryCount++
		v.evaluateSummary("variable:"+key, summary)
	}

	if in.Evidence != nil && evidenceSummaryCount == 0 {
		v.fail("missing_evidence_summary", "evidence was provided but no evidence_summary was recorded")
	}

	v.Allowed = len(v.Violations) == 0
	return *v
}

func looksLikeSummaryKey(key string) bool {
	return strings.HasSuffix(key, "_summary") || strings.Contains(key, "summary")
}

// evaluateSummary applies the three per-summary admission checks and, if
// none fired, records that the summary passed clean.
func (v *Verdict) evaluateSummary(origin string, summary evidence.VerificationResult) {
	before := len(v.Violations)

	if summary.TotalClaims == 0 {
		v.fail("evidence_missing_claims", origin+": no claims in evidence summary")
	}
	if summary.MeanConfidence < 0.8 {
		v.fail("evidence_confidence", fmt.Sprintf("%s: mean confidence %.4f below 0.8", origin, summary.MeanConfidence))
	}
	if summary.SupportedClaims == 0 {
		v.fail("evidence_missing_support", origin+": no supported claims")
	}

	if len(v.Violations) == before {
		v.EnforcementActions = append(v.EnforcementActions, Action{Kind: "evidence_summary_valid", Detail: origin})
	}
}

func (v *Verdict) fail(rule, message string) {
	v.Violations = append(v.Violations, Violation{Rule: rule, Severity: "error", Message: message})
}

func (v *Verdict) warn(rule, message string) {
	v.Violations = append(v.Violations, Violation{Rule: rule, Severity: "warning", Message: message})
}

// CheckMemoryWritePolicy independently guards a memory write: evidence must
// be present and its mean confidence must clear 0.8. This is distinct from
// the scheduler's own mem.write admission check — it exists so a caller can
// re-validate a write decision after the fact, against the same rule.
func CheckMemoryWritePolicy(ev *evidence.Evidence) error {
	if ev == nil {
		return kernelerr.InsufficientEvidenceConfidence("policy.CheckMemoryWritePolicy", "no evidence supplied for memory write")
	}
	summary := evidence.Verify(*ev)
	if summary.MeanConfidence < 0.8 {
		return kernelerr.InsufficientEvidenceConfidence("policy.CheckMemoryWritePolicy",
			fmt.Sprintf("mean confidence %.4f below 0.8", summary.MeanConfidence))
	}
	return nil
}
