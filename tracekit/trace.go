// Package tracekit implements the structured trace event record and its
// Ed25519 signing/verification.
package tracekit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Trace is an append-only structured event record. Event types the kernel
// emits: step_start, step_end, capability_route, policy_violation,
// evidence_summary, plan_optimizer, budget_summary.
type Trace struct {
	PlanID    string          `json:"plan_id"`
	StepID    string          `json:"step_id"`
	Timestamp time.Time       `json:"ts"`
	EventType string          `json:"event_type"`
	CostUSD   *float64        `json:"cost_usd,omitempty"`
	TokensIn  *uint64         `json:"tokens_in,omitempty"`
	TokensOut *uint64         `json:"tokens_out,omitempty"`
	Citations []string        `json:"citations,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// New builds a Trace for planID/stepID/eventType, marshaling data (which
// may be nil) into the Data field. now is supplied by the caller; the
// ExecutionContext passes the time from its injectable Clock.
func New(planID, stepID, eventType string, now time.Time, data interface{}) *Trace {
	t := &Trace{
		PlanID:    planID,
		StepID:    stepID,
		Timestamp: now,
		EventType: eventType,
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			t.Data = raw
		}
	}
	return t
}

// canonicalString is the exact message signed and verified: the plan,
// step, timestamp and event type joined by colons, in that order.
func (t *Trace) canonicalString() string {
	return fmt.Sprintf("%s:%s:%s:%s", t.PlanID, t.StepID, t.Timestamp.Format(time.RFC3339Nano), t.EventType)
}
