package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/ampkernel/amp/tracekit"
)

func runTraceCmd(_ context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("trace", flag.ContinueOnError)
	fs.SetOutput(errOut)
	planID := fs.String("plan-id", "", "plan id returned by a prior run")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *planID == "" {
		fmt.Fprintln(errOut, "ampctl trace: --plan-id is required")
		return 1
	}

	b, err := loadBundle(*planID)
	if err != nil {
		fmt.Fprintf(errOut, "ampctl trace: %s\n", err)
		return 1
	}

	raw, err := json.MarshalIndent(struct {
		PlanID string            `json:"plan_id"`
		Traces []*tracekit.Trace `json:"traces"`
	}{PlanID: b.PlanID, Traces: b.Traces}, "", "  ")
	if err != nil {
		fmt.Fprintf(errOut, "ampctl trace: %s\n", err)
		return 1
	}
	fmt.Fprintln(out, string(raw))
	return 0
}
