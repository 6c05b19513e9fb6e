package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ampkernel/amp/plan"
	"github.com/ampkernel/amp/tracekit"
)

// bundle is the data a replay bundle would contain: the plan that ran, its
// full trace, and the plan id that correlates them. This is the on-disk
// shape ampctl's local store persists, matching the kernel API façade's
// documented POST /v1/replay/bundle response.
type bundle struct {
	PlanID string          `json:"plan_id"`
	Plan   *plan.Plan      `json:"plan"`
	Traces []*tracekit.Trace `json:"traces"`
}

// dataDir is where ampctl persists bundles between subcommand invocations
// in the same CLI session. This is a CLI convenience, not the kernel's own
// persistence — the kernel library itself holds no state after Run returns.
func dataDir() string {
	if v := os.Getenv("AMP_DATA_DIR"); v != "" {
		return v
	}
	return ".ampctl-data"
}

func bundlePath(planID string) string {
	return filepath.Join(dataDir(), planID+".json")
}

func saveBundle(b bundle) error {
	if err := os.MkdirAll(dataDir(), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(bundlePath(b.PlanID), raw, 0o644)
}

func loadBundle(planID string) (bundle, error) {
	raw, err := os.ReadFile(bundlePath(planID))
	if err != nil {
		return bundle{}, err
	}
	var b bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return bundle{}, err
	}
	return b, nil
}
