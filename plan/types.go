// Package plan defines the declarative plan IR: nodes, edges, signals and
// stop conditions, plus the structural and tool-aware validation every plan
// must pass before the scheduler will run it.
package plan

// Op names which scheduler handler executes a Node.
type Op string

const (
	OpCall     Op = "call"
	OpMap      Op = "map"
	OpReduce   Op = "reduce"
	OpBranch   Op = "branch"
	OpAssert   Op = "assert"
	OpSpawn    Op = "spawn"
	OpMemRead  Op = "mem.read"
	OpMemWrite Op = "mem.write"
	OpVerify   Op = "verify"
	OpRetry    Op = "retry"
)

// requiresTool reports whether op requires either Tool or Capability to be
// set on the node.
func (op Op) requiresTool() bool {
	switch op {
	case OpCall, OpMap, OpReduce, OpVerify, OpMemRead, OpMemWrite, OpRetry:
		return true
	default:
		return false
	}
}

// requiresOutput reports whether op requires a non-empty Out mapping.
// Notably mem.write does not, even though it requires a tool.
func (op Op) requiresOutput() bool {
	switch op {
	case OpCall, OpMap, OpReduce, OpVerify, OpMemRead, OpRetry:
		return true
	default:
		return false
	}
}

// Node is a single unit of work in a Plan.
type Node struct {
	ID         string                 `json:"id"`
	Op         Op                     `json:"op"`
	Tool       string                 `json:"tool,omitempty"`
	Capability string                 `json:"capability,omitempty"`
	Args       map[string]interface{} `json:"args,omitempty"`
	Bind       map[string]string      `json:"bind,omitempty"`
	Out        map[string]string      `json:"out,omitempty"`
}

// Edge is a directed dependency: To may not execute until From has
// completed.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Signals are the soft budgets attached to a plan.
type Signals struct {
	LatencyBudgetMs *float64 `json:"latency_budget_ms,omitempty"`
	CostCapUSD      *float64 `json:"cost_cap_usd,omitempty"`
	Risk            *float64 `json:"risk,omitempty"`
}

// StopConditions are parsed from a plan alongside its signals. The
// scheduler does not enforce them: neither MaxNodes nor MinConfidence
// stops a run.
type StopConditions struct {
	MaxNodes      *int     `json:"max_nodes,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
}

// Plan is an ordered sequence of Nodes plus their dependency Edges, signals
// and stop conditions.
type Plan struct {
	Nodes          []Node         `json:"nodes"`
	Edges          []Edge         `json:"edges,omitempty"`
	Signals        Signals        `json:"signals,omitempty"`
	StopConditions StopConditions `json:"stop_conditions,omitempty"`
}

// NodeByID returns the node with the given id, or false if absent.
func (p *Plan) NodeByID(id string) (Node, bool) {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
