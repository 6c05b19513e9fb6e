// Package budget implements the pre-flight constraint checks and the Budget
// type of remaining latency, cost and token allowances. The live accountant
// (ExecutionContext.RecordToolUsage) keeps its own running totals and does
// not use Budget.
package budget

import "github.com/ampkernel/amp/plan"

// Budget bundles the optional remaining latency, cost and token allowances
// derived from a plan's Signals. A nil field means "no budget configured
// for this dimension" — subtracting against it always succeeds.
type Budget struct {
	LatencyRemainingMs *float64
	CostRemainingUSD   *float64
	TokensRemaining    *uint64
}

// New derives a Budget from a plan's signals.
func New(signals plan.Signals) *Budget {
	b := &Budget{}
	if signals.LatencyBudgetMs != nil {
		v := *signals.LatencyBudgetMs
		b.LatencyRemainingMs = &v
	}
	if signals.CostCapUSD != nil {
		v := *signals.CostCapUSD
		b.CostRemainingUSD = &v
	}
	return b
}

// SubtractLatency deducts ms from the remaining latency budget, clamping at
// zero. It returns false if the budget was insufficient to cover the
// deduction (an underflow), true otherwise or if no latency budget is set.
func (b *Budget) SubtractLatency(ms float64) bool {
	if b.LatencyRemainingMs == nil {
		return true
	}
	return subtractClamped(b.LatencyRemainingMs, ms)
}

// SubtractCost deducts usd from the remaining cost budget, same clamping
// contract as SubtractLatency.
func (b *Budget) SubtractCost(usd float64) bool {
	if b.CostRemainingUSD == nil {
		return true
	}
	return subtractClamped(b.CostRemainingUSD, usd)
}

// SubtractTokens deducts n from the remaining token budget, same clamping
// contract as SubtractLatency.
func (b *Budget) SubtractTokens(n uint64) bool {
	if b.TokensRemaining == nil {
		return true
	}
	if *b.TokensRemaining >= n {
		*b.TokensRemaining -= n
		return true
	}
	*b.TokensRemaining = 0
	return false
}

func subtractClamped(remaining *float64, amount float64) bool {
	if *remaining >= amount {
		*remaining -= amount
		return true
	}
	*remaining = 0
	return false
}
