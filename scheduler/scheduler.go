// Package scheduler drives a Plan to completion against an
// ExecutionContext: it orders nodes advisorily, resolves dependencies at
// runtime, and dispatches each node to its operation handler.
package scheduler

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/ampkernel/amp/budget"
	"github.com/ampkernel/amp/execctx"
	"github.com/ampkernel/amp/kernelerr"
	"github.com/ampkernel/amp/logger"
	"github.com/ampkernel/amp/memorystore"
	"github.com/ampkernel/amp/plan"
	"github.com/ampkernel/amp/toolspec"
)

const maxRounds = 100

// Scheduler executes a validated Plan node by node. It holds no
// per-execution state of its own — everything mutable lives on the
// ExecutionContext passed to Run, so one Scheduler may drive many plans.
type Scheduler struct {
	Tools  *toolspec.Client
	Memory *memorystore.Store
	Log    logger.Logger

	// Now and Sleep are overridable for deterministic tests; they default
	// to time.Now and time.Sleep.
	Now   func() time.Time
	Sleep func(time.Duration)
}

// New builds a Scheduler wired to the given tool client and memory store.
func New(tools *toolspec.Client, mem *memorystore.Store, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	return &Scheduler{
		Tools:  tools,
		Memory: mem,
		Log:    log,
		Now:    time.Now,
		Sleep:  time.Sleep,
	}
}

// Run validates p against the tools registered on ec, hydrates any missing
// ToolSpecs, rejects malformed signals up front, computes an advisory
// plan-optimizer ordering, then drives the ready-set loop to completion.
// Cost and latency overruns are not pre-flight estimates: they are caught
// live, mid-run, by the budget accountant after each round, which always
// pushes a budget_summary trace before returning the error. On a
// successful run, Run pushes that same terminal budget_summary trace.
func (s *Scheduler) Run(ctx context.Context, p *plan.Plan, ec *execctx.ExecutionContext) error {
	available := make(map[string]struct{}, len(ec.ToolURLs))
	for name := range ec.ToolURLs {
		available[name] = struct{}{}
	}
	if err := p.ValidateWithTools(available); err != nil {
		return err
	}

	if err := s.hydrateSpecs(ctx, p, ec); err != nil {
		return err
	}

	if err := budget.CheckPlanConstraints(p, ec.ToolSpecs); err != nil {
		return err
	}

	order := s.planOptimizerOrder(p, ec)

	if err := s.readySetLoop(ctx, order, p, ec); err != nil {
		return err
	}

	ec.PushBudgetSummaryTrace()
	return nil
}

func (s *Scheduler) hydrateSpecs(ctx context.Context, p *plan.Plan, ec *execctx.ExecutionContext) error {
	for _, n := range p.Nodes {
		if n.Tool == "" {
			continue
		}
		if _, ok := ec.ToolSpecs[n.Tool]; ok {
			continue
		}
		url, ok := ec.ToolURLs[n.Tool]
		if !ok {
			continue
		}
		spec, err := s.Tools.FetchSpec(ctx, url, n.Tool)
		if err != nil {
			return err
		}
		ec.RegisterToolSpec(n.Tool, spec)
	}
	return nil
}

type rankedNode struct {
	node         plan.Node
	cost         float64
	latency      float64
	selectedTool string
	index        int
}

// planOptimizerOrder estimates (cost, latency, selected_tool) for every
// node and sorts ascending by (cost, latency, original index), emitting a
// single plan_optimizer trace describing the ranking. Dependency
// satisfaction in the ready-set loop overrides this ordering on every
// round; it only decides tie-breaks among simultaneously-executable nodes.
func (s *Scheduler) planOptimizerOrder(p *plan.Plan, ec *execctx.ExecutionContext) []plan.Node {
	ranked := make([]rankedNode, len(p.Nodes))
	for i, n := range p.Nodes {
		var cost, latency float64
		var tool string
		switch {
		case n.Tool != "":
			spec := ec.ToolSpecs[n.Tool]
			cost, latency, tool = spec.CostPerCall(), spec.LatencyP50(), n.Tool
		case n.Capability != "":
			if t, c, l, ok := ec.CheapestForCapability(n.Capability); ok {
				cost, latency, tool = c, l, t
			} else {
				cost, latency = math.MaxFloat64, math.MaxFloat64
			}
		}
		ranked[i] = rankedNode{node: n, cost: cost, latency: latency, selectedTool: tool, index: i}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].cost != ranked[j].cost {
			return ranked[i].cost < ranked[j].cost
		}
		if ranked[i].latency != ranked[j].latency {
			return ranked[i].latency < ranked[j].latency
		}
		return ranked[i].index < ranked[j].index
	})

	ordered := make([]plan.Node, len(ranked))
	ranking := make([]map[string]interface{}, len(ranked))
	for i, r := range ranked {
		ordered[i] = r.node
		ranking[i] = map[string]interface{}{
			"node_id":       r.node.ID,
			"selected_tool": r.selectedTool,
			"cost":          r.cost,
			"latency":       r.latency,
		}
	}
	ec.AppendTrace("", "plan_optimizer", map[string]interface{}{"ranking": ranking})
	return ordered
}

// readySetLoop partitions the remaining nodes into those whose
// dependencies are satisfied and those that aren't, executes the
// executable set sequentially, and repeats until nothing remains or the
// round cap is hit. A round that executes nothing with pending nodes
// remaining indicates a dependency cycle.
func (s *Scheduler) readySetLoop(ctx context.Context, order []plan.Node, p *plan.Plan, ec *execctx.ExecutionContext) error {
	remaining := order

	for round := 0; round < maxRounds && len(remaining) > 0; round++ {
		executable, next := partition(remaining, p.Edges, ec.CompletedNodes)
		if len(executable) == 0 {
			return kernelerr.Validation("scheduler.Run", "", "No executable nodes found - possible circular dependency")
		}

		for _, n := range executable {
			ec.RunningNodes[n.ID] = struct{}{}
			if err := s.executeNode(ctx, n, ec); err != nil {
				return err
			}
			delete(ec.RunningNodes, n.ID)
			ec.CompletedNodes[n.ID] = struct{}{}
		}

		remaining = next
		if err := ec.CheckBudgetOverrunAndTrace(); err != nil {
			return err
		}
	}

	return nil
}

func partition(remaining []plan.Node, edges []plan.Edge, completed map[string]struct{}) (executable, next []plan.Node) {
	for _, n := range remaining {
		ready := true
		for _, e := range edges {
			if e.To != n.ID {
				continue
			}
			if _, ok := completed[e.From]; !ok {
				ready = false
				break
			}
		}
		if ready {
			executable = append(executable, n)
		} else {
			next = append(next, n)
		}
	}
	return executable, next
}

func (s *Scheduler) executeNode(ctx context.Context, n plan.Node, ec *execctx.ExecutionContext) error {
	switch n.Op {
	case plan.OpCall:
		return s.execCall(ctx, n, ec)
	case plan.OpMap:
		return s.execMap(ctx, n, ec)
	case plan.OpReduce:
		return s.execReduce(n, ec)
	case plan.OpBranch:
		return nil
	case plan.OpAssert:
		return s.execAssert(n, ec)
	case plan.OpSpawn:
		return nil
	case plan.OpMemRead:
		return s.execMemRead(ctx, n, ec)
	case plan.OpMemWrite:
		return s.execMemWrite(ctx, n, ec)
	case plan.OpVerify:
		return s.execVerify(ctx, n, ec)
	case plan.OpRetry:
		return s.execRetry(ctx, n, ec)
	default:
		return kernelerr.Validation("scheduler.Run", n.ID, "unknown operation "+string(n.Op))
	}
}

// invoke wraps a tool call with the kernel's 30-second per-invocation cap,
// converting a context deadline into a TimeoutError rather than letting the
// transport-level error leak through as a generic ToolExecutionError.
func (s *Scheduler) invoke(ctx context.Context, nodeID, baseURL, toolName string, args map[string]interface{}) (rawResult []byte, elapsed time.Duration, err error) {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := s.Now()
	raw, invokeErr := s.Tools.Invoke(cctx, baseURL, toolName, args)
	elapsed = s.Now().Sub(start)
	if invokeErr != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, elapsed, kernelerr.Timeout("scheduler.invoke", nodeID, toolName, "tool invocation exceeded 30s timeout")
		}
		return nil, elapsed, invokeErr
	}
	return raw, elapsed, nil
}

func msFloat(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func specOrNil(ec *execctx.ExecutionContext, toolName string) *toolspec.ToolSpec {
	if spec, ok := ec.ToolSpecs[toolName]; ok {
		return &spec
	}
	return nil
}

func bindOutputs(ec *execctx.ExecutionContext, n plan.Node, value interface{}) {
	for key := range n.Out {
		ec.Variables[key] = value
	}
}
