package plan

import (
	"strings"

	"github.com/ampkernel/amp/kernelerr"
)

const op = "plan.Validate"

// Validate checks the plan's structure in isolation: non-empty nodes,
// unique ids, and edges that resolve to existing nodes.
func (p *Plan) Validate() error {
	if len(p.Nodes) == 0 {
		return kernelerr.Validation(op, "", "empty_plan: plan has no nodes")
	}

	seen := make(map[string]struct{}, len(p.Nodes))
	for _, n := range p.Nodes {
		if _, dup := seen[n.ID]; dup {
			return kernelerr.Validation(op, n.ID, "duplicate_node_id: "+n.ID)
		}
		seen[n.ID] = struct{}{}
	}

	for _, e := range p.Edges {
		if _, ok := seen[e.From]; !ok {
			return kernelerr.Validation(op, e.From, "invalid_edge: unknown node "+e.From)
		}
		if _, ok := seen[e.To]; !ok {
			return kernelerr.Validation(op, e.To, "invalid_edge: unknown node "+e.To)
		}
	}

	return nil
}

// ValidateWithTools runs Validate, then checks every node against the set
// of tool names known to be available (registered with a URL). Nodes whose
// operation requires a tool must set either Tool (a member of available) or
// Capability; any node that sets Tool at all must reference an available
// tool, regardless of its operation. Nodes whose operation requires an
// output binding must set a non-empty Out with no all-whitespace keys.
func (p *Plan) ValidateWithTools(available map[string]struct{}) error {
	if err := p.Validate(); err != nil {
		return err
	}

	for _, n := range p.Nodes {
		if n.Tool != "" {
			if _, ok := available[n.Tool]; !ok {
				return kernelerr.Validation(op, n.ID, "unknown_tool: "+n.Tool)
			}
		}

		if n.Op.requiresTool() {
			hasTool := n.Tool != ""
			hasCapability := n.Capability != ""
			if !hasTool && !hasCapability {
				return kernelerr.Validation(op, n.ID, "missing_tool_or_capability: node "+n.ID+" requires tool or capability")
			}
		}

		if n.Op.requiresOutput() {
			if len(n.Out) == 0 {
				return kernelerr.Validation(op, n.ID, "missing_output_binding: node "+n.ID+" requires a non-empty out mapping")
			}
			for k := range n.Out {
				if strings.TrimSpace(k) == "" {
					return kernelerr.Validation(op, n.ID, "missing_output_binding: node "+n.ID+" has a blank out key")
				}
			}
		}
	}

	return nil
}
