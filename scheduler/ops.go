package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ampkernel/amp/budget"
	"github.com/ampkernel/amp/evidence"
	"github.com/ampkernel/amp/execctx"
	"github.com/ampkernel/amp/kernelerr"
	"github.com/ampkernel/amp/memorystore"
	"github.com/ampkernel/amp/plan"
)

const maxRetryAttempts = 3

func (s *Scheduler) execCall(ctx context.Context, n plan.Node, ec *execctx.ExecutionContext) error {
	toolName, err := ec.ResolveTool(n.ID, n.Tool, n.Capability)
	if err != nil {
		return err
	}
	args := ec.ResolveArgs(n.Args)
	if spec := specOrNil(ec, toolName); spec != nil {
		if err := budget.CheckToolConstraints(n.ID, args, *spec); err != nil {
			return err
		}
	}
	if err := ec.EnforceToolPolicy(n.ID, toolName, args); err != nil {
		return err
	}

	ec.AppendTrace(n.ID, "step_start", map[string]interface{}{"tool": toolName, "capability": n.Capability})

	raw, elapsed, err := s.invoke(ctx, n.ID, ec.ToolURLs[toolName], toolName, args)
	if err != nil {
		return err
	}

	if err := ec.RecordToolUsage(toolName, specOrNil(ec, toolName), msFloat(elapsed), 0); err != nil {
		return err
	}

	bindOutputs(ec, n, toInterface(raw))
	ec.AppendTrace(n.ID, "step_end", stepEndData(toolName, n.Capability, elapsed, ec))
	return nil
}

func (s *Scheduler) execMap(ctx context.Context, n plan.Node, ec *execctx.ExecutionContext) error {
	toolName, err := ec.ResolveTool(n.ID, n.Tool, n.Capability)
	if err != nil {
		return err
	}

	resolved := ec.ResolveArgs(n.Args)
	collection, ok := resolved["collection"].([]interface{})
	if !ok {
		return kernelerr.Validation("scheduler.map", n.ID, "args.collection must resolve to an array")
	}

	spec := specOrNil(ec, toolName)
	results := make([]interface{}, 0, len(collection))

	for index, item := range collection {
		itemArgs := cloneArgs(n.Args)
		itemArgs["item"] = item
		itemArgs["index"] = index
		resolvedItemArgs := ec.ResolveArgs(itemArgs)

		if spec != nil {
			if err := budget.CheckToolConstraints(n.ID, resolvedItemArgs, *spec); err != nil {
				return err
			}
		}
		if err := ec.EnforceToolPolicy(n.ID, toolName, resolvedItemArgs); err != nil {
			return err
		}

		raw, elapsed, err := s.invoke(ctx, n.ID, ec.ToolURLs[toolName], toolName, resolvedItemArgs)
		if err != nil {
			return err
		}
		if err := ec.RecordToolUsage(toolName, spec, msFloat(elapsed), 0); err != nil {
			return err
		}
		results = append(results, toInterface(raw))
	}

	bindOutputs(ec, n, results)
	return nil
}

func (s *Scheduler) execReduce(n plan.Node, ec *execctx.ExecutionContext) error {
	resolved := ec.ResolveArgs(n.Args)
	collection, ok := resolved["collection"].([]interface{})
	if !ok {
		return kernelerr.Validation("scheduler.reduce", n.ID, "args.collection must resolve to an array")
	}

	var sb strings.Builder
	for _, item := range collection {
		b, err := json.Marshal(item)
		if err != nil {
			return kernelerr.Validation("scheduler.reduce", n.ID, "element could not be serialized: "+err.Error())
		}
		sb.Write(b)
		sb.WriteByte('\n')
	}

	bindOutputs(ec, n, sb.String())
	return nil
}

func (s *Scheduler) execAssert(n plan.Node, ec *execctx.ExecutionContext) error {
	resolved := ec.ResolveArgs(n.Args)
	condition, ok := resolved["condition"].(string)
	if !ok {
		return kernelerr.Validation("scheduler.assert", n.ID, "args.condition must be a string")
	}

	if evStr, ok := resolved["evidence"].(string); ok && evStr != "" {
		var ev evidence.Evidence
		if err := json.Unmarshal([]byte(evStr), &ev); err != nil {
			return kernelerr.Validation("scheduler.assert", n.ID, "args.evidence did not parse as evidence: "+err.Error())
		}
		summary := evidence.Verify(ev)
		ec.AppendTrace(n.ID, "evidence_summary", summary)
		if err := evidence.ValidateForStorage(ev, 0.8); err != nil {
			return err
		}
	}

	if condition != "true" {
		return kernelerr.Validation("scheduler.assert", n.ID, "Assertion failed: "+condition)
	}
	return nil
}

func (s *Scheduler) execMemRead(ctx context.Context, n plan.Node, ec *execctx.ExecutionContext) error {
	resolved := ec.ResolveArgs(n.Args)
	key, ok := resolved["key"].(string)
	if !ok {
		return kernelerr.Validation("scheduler.mem.read", n.ID, "args.key must resolve to a string")
	}

	toolName, err := ec.ResolveTool(n.ID, n.Tool, n.Capability)
	if err != nil {
		return err
	}

	start := s.Now()
	entry, err := s.Memory.Read(ctx, ec.ToolURLs[toolName], toolName, key)
	elapsed := s.Now().Sub(start)
	if err != nil {
		return err
	}

	if err := ec.RecordToolUsage(toolName, specOrNil(ec, toolName), msFloat(elapsed), 0); err != nil {
		return err
	}

	var value interface{}
	if entry != nil {
		value = toInterface(entry.Value)
	}
	bindOutputs(ec, n, value)
	return nil
}

func (s *Scheduler) execMemWrite(ctx context.Context, n plan.Node, ec *execctx.ExecutionContext) error {
	resolved := ec.ResolveArgs(n.Args)

	key, ok := resolved["key"].(string)
	if !ok {
		return kernelerr.Validation("scheduler.mem.write", n.ID, "args.key must resolve to a string")
	}
	value, hasValue := resolved["value"]
	if !hasValue {
		return kernelerr.Validation("scheduler.mem.write", n.ID, "args.value is required")
	}
	provenance, ok := toStringSlice(resolved["provenance"])
	if !ok || len(provenance) == 0 {
		return kernelerr.MissingProvenance("scheduler.mem.write", n.ID, "args.provenance must resolve to a non-empty list of strings")
	}

	confidence, _ := resolved["confidence"].(float64)

	ttl := memorystore.DefaultTTL
	if t, ok := resolved["ttl"].(string); ok && t != "" {
		ttl = t
	}

	var evidenceSummary interface{}
	evidenceProvided := false
	if evStr, ok := resolved["evidence"].(string); ok && evStr != "" {
		evidenceProvided = true
		var ev evidence.Evidence
		if err := json.Unmarshal([]byte(evStr), &ev); err != nil {
			return kernelerr.Validation("scheduler.mem.write", n.ID, "args.evidence did not parse as evidence: "+err.Error())
		}
		if err := evidence.ValidateForStorage(ev, 0.8); err != nil {
			return err
		}
		summary := evidence.Verify(ev)
		evidenceSummary = summary
		if summary.MeanConfidence > 0 {
			confidence = summary.MeanConfidence
		}
		ec.AppendTrace(n.ID, "evidence_summary", summary)
	}

	if !evidenceProvided && confidence < 0.8 {
		return kernelerr.Validation("scheduler.mem.write", n.ID,
			fmt.Sprintf("Memory write rejected: confidence %v < 0.8 threshold", confidence))
	}

	toolName, err := ec.ResolveTool(n.ID, n.Tool, n.Capability)
	if err != nil {
		return err
	}

	req := memorystore.WriteRequest{
		Key:             key,
		Value:           value,
		Provenance:      provenance,
		Confidence:      confidence,
		TTL:             ttl,
		EvidenceSummary: evidenceSummary,
	}

	start := s.Now()
	err = s.Memory.Write(ctx, ec.ToolURLs[toolName], toolName, req)
	elapsed := s.Now().Sub(start)
	if err != nil {
		return err
	}

	return ec.RecordToolUsage(toolName, specOrNil(ec, toolName), msFloat(elapsed), 0)
}

func (s *Scheduler) execVerify(ctx context.Context, n plan.Node, ec *execctx.ExecutionContext) error {
	resolved := ec.ResolveArgs(n.Args)
	if _, ok := toStringSlice(resolved["claims"]); !ok {
		return kernelerr.Validation("scheduler.verify", n.ID, "args.claims must resolve to a list of strings")
	}
	if _, ok := resolved["sources"].([]interface{}); !ok {
		return kernelerr.Validation("scheduler.verify", n.ID, "args.sources must resolve to a list")
	}

	toolName, err := ec.ResolveTool(n.ID, n.Tool, n.Capability)
	if err != nil {
		return err
	}
	if spec := specOrNil(ec, toolName); spec != nil {
		if err := budget.CheckToolConstraints(n.ID, resolved, *spec); err != nil {
			return err
		}
	}
	if err := ec.EnforceToolPolicy(n.ID, toolName, resolved); err != nil {
		return err
	}

	ec.AppendTrace(n.ID, "step_start", map[string]interface{}{"tool": toolName, "capability": n.Capability})

	raw, elapsed, err := s.invoke(ctx, n.ID, ec.ToolURLs[toolName], toolName, resolved)
	if err != nil {
		return err
	}
	if err := ec.RecordToolUsage(toolName, specOrNil(ec, toolName), msFloat(elapsed), 0); err != nil {
		return err
	}

	bindOutputs(ec, n, toInterface(raw))

	if looksLikeEvidence(raw) {
		var ev evidence.Evidence
		if err := json.Unmarshal(raw, &ev); err == nil {
			summary := evidence.Verify(ev)
			for outName := range n.Out {
				ec.Variables[outName+"_summary"] = summary
			}
			ec.AppendTrace(n.ID, "evidence_summary", summary)
		}
	}

	ec.AppendTrace(n.ID, "step_end", stepEndData(toolName, n.Capability, elapsed, ec))
	return nil
}

func (s *Scheduler) execRetry(ctx context.Context, n plan.Node, ec *execctx.ExecutionContext) error {
	toolName, err := ec.ResolveTool(n.ID, n.Tool, n.Capability)
	if err != nil {
		return err
	}
	args := ec.ResolveArgs(n.Args)
	spec := specOrNil(ec, toolName)
	if spec != nil {
		if err := budget.CheckToolConstraints(n.ID, args, *spec); err != nil {
			return err
		}
	}
	if err := ec.EnforceToolPolicy(n.ID, toolName, args); err != nil {
		return err
	}

	var lastErr error

	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		ec.AppendTrace(n.ID, "step_start", map[string]interface{}{"tool": toolName, "capability": n.Capability, "attempt": attempt})

		raw, elapsed, invokeErr := s.invoke(ctx, n.ID, ec.ToolURLs[toolName], toolName, args)
		usageErr := ec.RecordToolUsage(toolName, spec, msFloat(elapsed), 0)
		if usageErr != nil {
			return usageErr
		}

		if invokeErr != nil {
			lastErr = invokeErr
			if attempt < maxRetryAttempts {
				s.Sleep(500 * time.Millisecond)
				continue
			}
			return lastErr
		}

		bindOutputs(ec, n, toInterface(raw))
		data := stepEndData(toolName, n.Capability, elapsed, ec)
		data["attempt"] = attempt
		ec.AppendTrace(n.ID, "step_end", data)
		return nil
	}

	return lastErr
}

func stepEndData(toolName, capability string, elapsed time.Duration, ec *execctx.ExecutionContext) map[string]interface{} {
	return map[string]interface{}{
		"tool":             toolName,
		"capability":       capability,
		"latency_ms":       msFloat(elapsed),
		"total_latency_ms": ec.TotalLatencyMs,
		"total_cost_usd":   ec.TotalCostUSD,
		"total_tokens":     ec.TotalTokens,
	}
}

// looksLikeEvidence guards verify's opportunistic Evidence parsing: an
// arbitrary tool response happens to unmarshal into the zero value of
// Evidence too, so only attempt the summary when the payload actually
// carries one of the evidence fields.
func looksLikeEvidence(raw []byte) bool {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return false
	}
	for _, key := range []string{"claims", "supports", "contradicts", "verdicts"} {
		if _, ok := generic[key]; ok {
			return true
		}
	}
	return false
}

func cloneArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args)+2)
	for k, v := range args {
		out[k] = v
	}
	return out
}

func toStringSlice(v interface{}) ([]string, bool) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func toInterface(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
