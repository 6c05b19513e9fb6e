// Package execctx implements ExecutionContext: the single mutable object
// the scheduler threads through a plan execution — variables, tool
// registrations, the derived capability index, running budget counters,
// and the trace log.
package execctx

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ampkernel/amp/kernelerr"
	"github.com/ampkernel/amp/plan"
	"github.com/ampkernel/amp/toolspec"
	"github.com/ampkernel/amp/tracekit"
)

// CapabilityCandidate describes one candidate tool considered while
// routing a capability to a concrete tool, for inclusion in a
// capability_route trace.
type CapabilityCandidate struct {
	Tool                  string  `json:"tool"`
	Cost                  float64 `json:"cost"`
	Latency               float64 `json:"latency"`
	BudgetCostHeadroom    bool    `json:"budget_cost_headroom"`
	BudgetLatencyHeadroom bool    `json:"budget_latency_headroom"`
}

// ExecutionContext owns everything a plan execution mutates. It is created
// once per plan, mutated only by the scheduler, and discarded after the
// policy verdict is produced.
type ExecutionContext struct {
	PlanID string

	Variables map[string]interface{}
	ToolURLs  map[string]string
	ToolSpecs map[string]toolspec.ToolSpec

	Signals plan.Signals

	TotalLatencyMs float64
	TotalCostUSD   float64
	TotalTokens    uint64

	TraceEvents    []*tracekit.Trace
	CompletedNodes map[string]struct{}
	RunningNodes   map[string]struct{}

	// Signer signs every trace as it's appended. A nil Signer leaves
	// traces unsigned, which is useful in tests that don't care about the
	// signature.
	Signer *tracekit.Signer

	// Clock is consulted for every trace timestamp. Defaults to time.Now.
	Clock func() time.Time

	capabilityIndex map[string][]string
	specOrder       []string
}

// New creates an ExecutionContext for planID, seeded with signals.
func New(planID string, signals plan.Signals) *ExecutionContext {
	return &ExecutionContext{
		PlanID:          planID,
		Variables:       make(map[string]interface{}),
		ToolURLs:        make(map[string]string),
		ToolSpecs:       make(map[string]toolspec.ToolSpec),
		Signals:         signals,
		CompletedNodes:  make(map[string]struct{}),
		RunningNodes:    make(map[string]struct{}),
		capabilityIndex: make(map[string][]string),
		Clock:           time.Now,
	}
}

func (c *ExecutionContext) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// RegisterToolSpec caches spec under name, registers it in first-seen
// order, and rebuilds the capability index.
func (c *ExecutionContext) RegisterToolSpec(name string, spec toolspec.ToolSpec) {
	if _, exists := c.ToolSpecs[name]; !exists {
		c.specOrder = append(c.specOrder, name)
	}
	c.ToolSpecs[name] = spec
	c.rebuildCapabilityIndex()
}

func (c *ExecutionContext) rebuildCapabilityIndex() {
	index := make(map[string][]string)
	seen := make(map[string]map[string]bool)
	for _, name := range c.specOrder {
		spec, ok := c.ToolSpecs[name]
		if !ok {
			continue
		}
		for _, capability := range spec.Capabilities {
			if seen[capability] == nil {
				seen[capability] = make(map[string]bool)
			}
			if !seen[capability][name] {
				index[capability] = append(index[capability], name)
				seen[capability][name] = true
			}
		}
	}
	c.capabilityIndex = index
}

// AppendTrace builds a Trace for the current plan, signs it if a Signer is
// set, appends it to TraceEvents, and returns it.
func (c *ExecutionContext) AppendTrace(stepID, eventType string, data interface{}) *tracekit.Trace {
	t := tracekit.New(c.PlanID, stepID, eventType, c.now(), data)
	if c.Signer != nil {
		c.Signer.Sign(t)
	}
	c.TraceEvents = append(c.TraceEvents, t)
	return t
}

// ResolveValue recursively rewrites v: strings beginning with "$" are
// treated as references into Variables; arrays and objects are walked
// element-wise; everything else is returned unchanged.
func (c *ExecutionContext) ResolveValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "$") {
			if resolved, ok := c.resolveReference(val[1:]); ok {
				return resolved
			}
			return val
		}
		return val
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = c.ResolveValue(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			out[k] = c.ResolveValue(e)
		}
		return out
	default:
		return v
	}
}

// ResolveArgs maps every value in args through ResolveValue. A nil args
// resolves to an empty, non-nil object so downstream policy/enforcement
// contracts always have something to serialize.
func (c *ExecutionContext) ResolveArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = c.ResolveValue(v)
	}
	return out
}

// resolveReference parses "root(.key|[index])*" (ref has already had its
// leading "$" stripped) and navigates Variables. Any mismatch — a missing
// root, a non-object member access, a non-array index access, or an
// out-of-range index — resolves to (nil, false), and the caller preserves
// the original literal string.
func (c *ExecutionContext) resolveReference(ref string) (interface{}, bool) {
	i := 0
	for i < len(ref) && ref[i] != '.' && ref[i] != '[' {
		i++
	}
	root := ref[:i]
	cur, ok := c.Variables[root]
	if !ok {
		return nil, false
	}

	rest := ref[i:]
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			j := 0
			for j < len(rest) && rest[j] != '.' && rest[j] != '[' {
				j++
			}
			key := rest[:j]
			rest = rest[j:]
			m, ok := cur.(map[string]interface{})
			if !ok {
				return nil, false
			}
			cur, ok = m[key]
			if !ok {
				return nil, false
			}
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, false
			}
			idx, err := strconv.Atoi(rest[1:end])
			if err != nil {
				return nil, false
			}
			rest = rest[end+1:]
			arr, ok := cur.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// ResolveTool resolves a node's tool, either directly or via capability
// routing. A direct tool must have a registered URL. Capability routing
// emits a capability_route trace listing every candidate considered.
func (c *ExecutionContext) ResolveTool(nodeID, tool, capability string) (string, error) {
	if tool != "" {
		if _, ok := c.ToolURLs[tool]; !ok {
			return "", kernelerr.Validation("execctx.ResolveTool", nodeID, "tool "+tool+" has no registered URL")
		}
		return tool, nil
	}
	if capability == "" {
		return "", kernelerr.Validation("execctx.ResolveTool", nodeID, "node has neither tool nor capability")
	}

	selected, candidates, ok := c.selectToolForCapability(capability)
	if !ok {
		return "", kernelerr.Validation("execctx.ResolveTool", nodeID, "no tool available for capability "+capability)
	}
	c.AppendTrace(nodeID, "capability_route", map[string]interface{}{
		"capability":    capability,
		"selected_tool": selected,
		"candidates":    candidates,
	})
	return selected, nil
}

func (c *ExecutionContext) selectToolForCapability(capability string) (string, []CapabilityCandidate, bool) {
	names := c.capabilityIndex[capability]
	var available []string
	for _, name := range names {
		if _, ok := c.ToolURLs[name]; ok {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return "", nil, false
	}

	sortByCostLatencyName(available, c.ToolSpecs)

	var remainingCost, remainingLatency *float64
	if c.Signals.CostCapUSD != nil {
		v := *c.Signals.CostCapUSD - c.TotalCostUSD
		remainingCost = &v
	}
	if c.Signals.LatencyBudgetMs != nil {
		v := *c.Signals.LatencyBudgetMs - c.TotalLatencyMs
		remainingLatency = &v
	}

	candidates := make([]CapabilityCandidate, 0, len(available))
	for _, name := range available {
		spec := c.ToolSpecs[name]
		cost := spec.CostPerCall()
		latency := spec.LatencyP50()
		candidates = append(candidates, CapabilityCandidate{
			Tool:                  name,
			Cost:                  cost,
			Latency:               latency,
			BudgetCostHeadroom:    remainingCost == nil || *remainingCost >= cost,
			BudgetLatencyHeadroom: remainingLatency == nil || *remainingLatency >= latency,
		})
	}
	return available[0], candidates, true
}

// CheapestForCapability reports the same winner selectToolForCapability
// would choose, without emitting a capability_route trace. The scheduler
// uses this for its advisory plan-optimizer ordering, which runs before
// any node has actually been routed.
func (c *ExecutionContext) CheapestForCapability(capability string) (tool string, cost, latency float64, ok bool) {
	selected, candidates, found := c.selectToolForCapability(capability)
	if !found {
		return "", 0, 0, false
	}
	for _, cand := range candidates {
		if cand.Tool == selected {
			return selected, cand.Cost, cand.Latency, true
		}
	}
	return selected, 0, 0, true
}

func sortByCostLatencyName(names []string, specs map[string]toolspec.ToolSpec) {
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && less(specs, names[j], names[j-1]); j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
}

func less(specs map[string]toolspec.ToolSpec, a, b string) bool {
	sa, sb := specs[a], specs[b]
	if sa.CostPerCall() != sb.CostPerCall() {
		return sa.CostPerCall() < sb.CostPerCall()
	}
	if sa.LatencyP50() != sb.LatencyP50() {
		return sa.LatencyP50() < sb.LatencyP50()
	}
	return a < b
}

// EnforceToolPolicy lowercases resolvedArgs as JSON and checks it against
// the tool's deny_if patterns, lowercased, as substrings. The first match
// emits a policy_violation trace and fails the invocation.
func (c *ExecutionContext) EnforceToolPolicy(nodeID, toolName string, resolvedArgs map[string]interface{}) error {
	spec, ok := c.ToolSpecs[toolName]
	if !ok || len(spec.Policy.DenyIf) == 0 {
		return nil
	}

	argsJSON := "null"
	if resolvedArgs != nil {
		if b, err := json.Marshal(resolvedArgs); err == nil {
			argsJSON = string(b)
		}
	}
	lowerArgs := strings.ToLower(argsJSON)

	for _, pattern := range spec.Policy.DenyIf {
		if strings.TrimSpace(pattern) == "" {
			continue
		}
		if strings.Contains(lowerArgs, strings.ToLower(pattern)) {
			description := fmt.Sprintf("Tool %s invocation blocked by policy pattern '%s'", toolName, pattern)
			c.AppendTrace(nodeID, "policy_violation", map[string]interface{}{
				"description": description,
				"pattern":     pattern,
				"args":        resolvedArgs,
			})
			return kernelerr.ToolExecution("execctx.EnforceToolPolicy", nodeID, toolName, description)
		}
	}
	return nil
}

// RecordToolUsage accounts one invocation's latency/cost/tokens against the
// running totals, then checks for a budget overrun. On overrun it pushes a
// budget_summary trace before returning the error, so downstream policy
// always sees the final snapshot.
func (c *ExecutionContext) RecordToolUsage(toolName string, spec *toolspec.ToolSpec, actualLatencyMs float64, tokensUsed uint64) error {
	var specLatency, specCost float64
	var specTokens int
	if spec != nil {
		specLatency = spec.LatencyP50()
		specCost = spec.CostPerCall()
		specTokens = spec.InputTokensMax()
	}

	consumedLatency := actualLatencyMs
	if specLatency > consumedLatency {
		consumedLatency = specLatency
	}
	c.TotalLatencyMs += consumedLatency
	c.TotalCostUSD += specCost

	consumedTokens := tokensUsed
	if tokensUsed == 0 && specTokens > 0 {
		consumedTokens = uint64(specTokens)
	}
	c.TotalTokens += consumedTokens

	return c.CheckBudgetOverrunAndTrace()
}

// CheckBudgetOverrunAndTrace checks for an overrun and, if one exists,
// pushes a budget_summary trace before returning the error. The scheduler
// calls this both after every round and inside RecordToolUsage, so the
// final trace always reflects the snapshot that triggered the abort.
func (c *ExecutionContext) CheckBudgetOverrunAndTrace() error {
	if err := c.CheckBudgetOverrun(); err != nil {
		c.PushBudgetSummaryTrace()
		return err
	}
	return nil
}

// CheckBudgetOverrun reports whether the running totals have exceeded
// either configured signal. It performs no side effects.
func (c *ExecutionContext) CheckBudgetOverrun() error {
	if c.Signals.LatencyBudgetMs != nil && c.TotalLatencyMs > *c.Signals.LatencyBudgetMs {
		return kernelerr.BudgetExceeded("execctx.CheckBudgetOverrun",
			fmt.Sprintf("Latency budget exceeded: %.2fms > %.2fms", c.TotalLatencyMs, *c.Signals.LatencyBudgetMs))
	}
	if c.Signals.CostCapUSD != nil && c.TotalCostUSD > *c.Signals.CostCapUSD {
		return kernelerr.BudgetExceeded("execctx.CheckBudgetOverrun",
			fmt.Sprintf("Cost budget exceeded: $%.4f > $%.4f", c.TotalCostUSD, *c.Signals.CostCapUSD))
	}
	return nil
}

// HasBudgetRemaining is equivalent to CheckBudgetOverrun() == nil.
func (c *ExecutionContext) HasBudgetRemaining() bool {
	return c.CheckBudgetOverrun() == nil
}

// PushBudgetSummaryTrace appends a terminal budget_summary trace capturing
// the final counters and configured signals.
func (c *ExecutionContext) PushBudgetSummaryTrace() {
	data := map[string]interface{}{
		"total_latency_ms": c.TotalLatencyMs,
		"total_cost_usd":   c.TotalCostUSD,
		"total_tokens":     c.TotalTokens,
	}
	if c.Signals.LatencyBudgetMs != nil {
		data["latency_budget_ms"] = *c.Signals.LatencyBudgetMs
	}
	if c.Signals.CostCapUSD != nil {
		data["cost_cap_usd"] = *c.Signals.CostCapUSD
	}
	c.AppendTrace("", "budget_summary", data)
}
