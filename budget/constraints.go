package budget

import (
	"encoding/json"
	"fmt"

	"github.com/ampkernel/amp/kernelerr"
	"github.com/ampkernel/amp/plan"
	"github.com/ampkernel/amp/toolspec"
)

const checkOp = "budget.CheckPlanConstraints"

// EstimateTokenCount applies a naive four-characters-per-token heuristic to
// the JSON representation of v.
func EstimateTokenCount(v interface{}) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b) / 4
}

// CheckPlanConstraints is the pre-flight estimator. It only rejects a plan
// for malformed signals that the live accountant has no way to catch on its
// own (an out-of-range risk value never produces a cost or latency sample to
// check). It deliberately does NOT sum estimated cost or latency across
// nodes and compare them to the plan's signals — that would let a plan get
// rejected before a single tool runs and before the budget_summary trace the
// live path (RecordToolUsage, CheckBudgetOverrunAndTrace) is responsible for
// ever gets pushed. Cost and latency overruns are caught live, mid-run, by
// the scheduler's per-round budget check, which always traces before it
// aborts.
func CheckPlanConstraints(p *plan.Plan, specs map[string]toolspec.ToolSpec) error {
	if p.Signals.Risk != nil {
		r := *p.Signals.Risk
		if r < 0.0 || r > 1.0 {
			recordPlanCheck("invalid_risk_value")
			return kernelerr.Validation(checkOp, "", fmt.Sprintf("invalid_risk_value: risk %.4f must be within [0,1]", r))
		}
	}

	recordPlanCheck("passed")
	return nil
}

// CheckToolConstraints verifies a single node's resolved arguments against
// its tool's declared input token ceiling.
func CheckToolConstraints(nodeID string, args map[string]interface{}, spec toolspec.ToolSpec) error {
	max := spec.InputTokensMax()
	if max <= 0 {
		return nil
	}
	estimated := EstimateTokenCount(args)
	if estimated > max {
		recordToolCheck("input_tokens_exceeded")
		return kernelerr.Validation("budget.CheckToolConstraints", nodeID,
			fmt.Sprintf("input_tokens_exceeded: estimated %d tokens > max %d for tool %s", estimated, max, spec.Name))
	}
	recordToolCheck("passed")
	return nil
}
