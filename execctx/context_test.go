package execctx_test

import (
	"testing"
	"time"

	"github.com/ampkernel/amp/execctx"
	"github.com/ampkernel/amp/kernelerr"
	"github.com/ampkernel/amp/plan"
	"github.com/ampkernel/amp/toolspec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestResolveValueLiteralPassesThrough(t *testing.T) {
	ctx := execctx.New("p1", plan.Signals{})
	assert.Equal(t, "hello", ctx.ResolveValue("hello"))
	assert.Equal(t, 5.0, ctx.ResolveValue(5.0))
}

func TestResolveValueSimpleReference(t *testing.T) {
	ctx := execctx.New("p1", plan.Signals{})
	ctx.Variables["root"] = map[string]interface{}{"a": "value-a"}
	assert.Equal(t, "value-a", ctx.ResolveValue("$root.a"))
}

func TestResolveValueArrayIndexReference(t *testing.T) {
	ctx := execctx.New("p1", plan.Signals{})
	ctx.Variables["root"] = map[string]interface{}{
		"items": []interface{}{"x", "y", "z"},
	}
	assert.Equal(t, "y", ctx.ResolveValue("$root.items[1]"))
}

func TestResolveValueUnresolvedReturnsLiteral(t *testing.T) {
	ctx := execctx.New("p1", plan.Signals{})
	assert.Equal(t, "$missing.key", ctx.ResolveValue("$missing.key"))
}

func TestResolveValueNestedStructures(t *testing.T) {
	ctx := execctx.New("p1", plan.Signals{})
	ctx.Variables["root"] = map[string]interface{}{"a": "resolved"}
	out := ctx.ResolveValue(map[string]interface{}{
		"list": []interface{}{"$root.a", "literal"},
	})
	m := out.(map[string]interface{})
	list := m["list"].([]interface{})
	assert.Equal(t, "resolved", list[0])
	assert.Equal(t, "literal", list[1])
}

func TestResolveArgsNilReturnsEmptyObject(t *testing.T) {
	ctx := execctx.New("p1", plan.Signals{})
	out := ctx.ResolveArgs(nil)
	require.NotNil(t, out)
	assert.Empty(t, out)
}

func TestRegisterToolSpecBuildsCapabilityIndex(t *testing.T) {
	ctx := execctx.New("p1", plan.Signals{})
	ctx.RegisterToolSpec("doc.search.local", toolspec.ToolSpec{
		Name:         "doc.search.local",
		Capabilities: []string{"search"},
		Constraints:  toolspec.Constraints{CostPerCallUSD: f(0.01), LatencyP50Ms: f(100)},
	})
	ctx.RegisterToolSpec("doc.search.cloud", toolspec.ToolSpec{
		Name:         "doc.search.cloud",
		Capabilities: []string{"search"},
		Constraints:  toolspec.Constraints{CostPerCallUSD: f(0.005), LatencyP50Ms: f(50)},
	})
	ctx.ToolURLs["doc.search.local"] = "http://local"
	ctx.ToolURLs["doc.search.cloud"] = "http://cloud"

	tool, err := ctx.ResolveTool("n1", "", "search")
	require.NoError(t, err)
	assert.Equal(t, "doc.search.cloud", tool)

	require.Len(t, ctx.TraceEvents, 1)
	assert.Equal(t, "capability_route", ctx.TraceEvents[0].EventType)
}

func TestResolveToolDirectRequiresRegisteredURL(t *testing.T) {
	ctx := execctx.New("p1", plan.Signals{})
	_, err := ctx.ResolveTool("n1", "ground.verify", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, kernelerr.ErrValidation)
}

func TestResolveToolNoToolOrCapability(t *testing.T) {
	ctx := execctx.New("p1", plan.Signals{})
	_, err := ctx.ResolveTool("n1", "", "")
	require.Error(t, err)
}

func TestEnforceToolPolicyBlocksMatchingPattern(t *testing.T) {
	ctx := execctx.New("p1", plan.Signals{})
	ctx.RegisterToolSpec("ground.verify", toolspec.ToolSpec{
		Name:   "ground.verify",
		Policy: toolspec.Policy{DenyIf: []string{"ssn"}},
	})
	err := ctx.EnforceToolPolicy("n1", "ground.verify", map[string]interface{}{"query": "find SSN 123-45-6789"})
	require.Error(t, err)
	assert.ErrorIs(t, err, kernelerr.ErrToolExecution)
	require.Len(t, ctx.TraceEvents, 1)
	assert.Equal(t, "policy_violation", ctx.TraceEvents[0].EventType)
}

func TestEnforceToolPolicyAllowsNonMatching(t *testing.T) {
	ctx := execctx.New("p1", plan.Signals{})
	ctx.RegisterToolSpec("ground.verify", toolspec.ToolSpec{
		Name:   "ground.verify",
		Policy: toolspec.Policy{DenyIf: []string{"ssn"}},
	})
	err := ctx.EnforceToolPolicy("n1", "ground.verify", map[string]interface{}{"query": "find docs"})
	require.NoError(t, err)
	assert.Empty(t, ctx.TraceEvents)
}

func TestRecordToolUsageAccumulatesAndDetectsOverrun(t *testing.T) {
	ctx := execctx.New("p1", plan.Signals{CostCapUSD: f(0.01)})
	spec := toolspec.ToolSpec{Constraints: toolspec.Constraints{CostPerCallUSD: f(0.008), LatencyP50Ms: f(10)}}

	err := ctx.RecordToolUsage("t1", &spec, 5, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.008, ctx.TotalCostUSD, 1e-9)

	err = ctx.RecordToolUsage("t1", &spec, 5, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernelerr.ErrBudgetExceeded)

	var budgetSummary *int
	for i, tr := range ctx.TraceEvents {
		if tr.EventType == "budget_summary" {
			idx := i
			budgetSummary = &idx
		}
	}
	require.NotNil(t, budgetSummary)
}

func TestHasBudgetRemaining(t *testing.T) {
	ctx := execctx.New("p1", plan.Signals{LatencyBudgetMs: f(100)})
	assert.True(t, ctx.HasBudgetRemaining())
	ctx.TotalLatencyMs = 150
	assert.False(t, ctx.HasBudgetRemaining())
}

func TestClockIsInjectable(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := execctx.New("p1", plan.Signals{})
	ctx.Clock = func() time.Time { return fixed }
	tr := ctx.AppendTrace("n1", "step_start", nil)
	assert.Equal(t, fixed, tr.Timestamp)
}
