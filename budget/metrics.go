package budget

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter                = otel.Meter("amp.budget")
	planConstraintChecks = mustCounter("amp.budget.plan_constraint_checks", "pre-flight plan constraint checks, by outcome")
	toolConstraintChecks = mustCounter("amp.budget.tool_constraint_checks", "pre-flight tool constraint checks, by outcome")
)

func mustCounter(name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		// A broken meter provider shouldn't take down constraint checking;
		// fall back to a no-op counter from the default global provider.
		c, _ = otel.Meter("amp.budget.noop").Int64Counter(name)
	}
	return c
}

func recordPlanCheck(outcome string) {
	planConstraintChecks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordToolCheck(outcome string) {
	toolConstraintChecks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
