package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ampkernel/amp/config"
	"github.com/ampkernel/amp/execctx"
	"github.com/ampkernel/amp/logger"
	"github.com/ampkernel/amp/memorystore"
	"github.com/ampkernel/amp/plan"
	"github.com/ampkernel/amp/policy"
	"github.com/ampkernel/amp/registry"
	"github.com/ampkernel/amp/scheduler"
	"github.com/ampkernel/amp/toolspec"
	"github.com/ampkernel/amp/tracekit"
)

// registryCacheTTL bounds how long a resolved tool set is served from
// Redis before ampctl re-bootstraps from the configured file or remote URL.
const registryCacheTTL = 5 * time.Minute

type runResult struct {
	PlanID    string                 `json:"plan_id"`
	Status    string                 `json:"status"`
	Error     string                 `json:"error,omitempty"`
	Variables map[string]interface{} `json:"variables"`
	Verdict   policy.Verdict         `json:"verdict"`
}

func runRunCmd(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(errOut)
	planFile := fs.String("plan-file", "", "path to the plan file (JSON or YAML)")
	varsFile := fs.String("vars-file", "", "path to a JSON object of initial variables")
	outFile := fs.String("out", "", "path to write the run result to (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *planFile == "" {
		fmt.Fprintln(errOut, "ampctl run: --plan-file is required")
		return 1
	}

	p, err := plan.LoadFile(*planFile)
	if err != nil {
		fmt.Fprintf(errOut, "ampctl run: %s\n", err)
		return 1
	}

	vars := map[string]interface{}{}
	if *varsFile != "" {
		raw, err := os.ReadFile(*varsFile)
		if err != nil {
			fmt.Fprintf(errOut, "ampctl run: %s\n", err)
			return 1
		}
		if err := json.Unmarshal(raw, &vars); err != nil {
			fmt.Fprintf(errOut, "ampctl run: invalid vars file: %s\n", err)
			return 1
		}
	}

	cfg := config.New()
	log := logger.NewDefaultLogger()
	log.SetLevel(cfg.LogLevel)

	var cache *registry.Cache
	if cfg.RegistryCacheRedisURL != "" {
		c, err := registry.NewCache(cfg.RegistryCacheRedisURL, registryCacheTTL, log)
		if err != nil {
			log.Warn("registry cache disabled, falling back to direct bootstrap", "error", err.Error())
		} else {
			cache = c
			defer cache.Close()
		}
	}

	entries, err := registry.Load(ctx, cfg, nil, cache, log)
	if err != nil {
		fmt.Fprintf(errOut, "ampctl run: registry bootstrap failed: %s\n", err)
		return 1
	}

	signer, err := tracekit.NewSigner()
	if err != nil {
		fmt.Fprintf(errOut, "ampctl run: %s\n", err)
		return 1
	}

	planID := plan.NewID()
	ec := execctx.New(planID, p.Signals)
	ec.Signer = signer
	for k, v := range vars {
		ec.Variables[k] = v
	}
	registry.ApplyToContext(ec, entries)

	client := toolspec.NewClient(cfg.ToolInvokeTimeout, log)
	mem := memorystore.NewStore(client)
	sched := scheduler.New(client, mem, log)

	// Capability-routed nodes need every registered tool's spec present on
	// ec before the scheduler's router can rank candidates by cost/latency;
	// the scheduler itself only hydrates specs for nodes with a direct
	// tool set. Fetch the rest here so a plan that routes by capability
	// alone still resolves.
	for _, e := range entries {
		if _, ok := ec.ToolSpecs[e.Name]; ok {
			continue
		}
		spec, err := client.FetchSpec(ctx, e.URL, e.Name)
		if err != nil {
			log.Warn("failed to hydrate tool spec, capability routing may be incomplete", "tool", e.Name, "error", err.Error())
			continue
		}
		ec.RegisterToolSpec(e.Name, spec)
	}

	runErr := sched.Run(ctx, p, ec)

	verdict := policy.EnforcePolicies(policy.Input{
		ToolSpecs: ec.ToolSpecs,
		Traces:    ec.TraceEvents,
		Variables: ec.Variables,
	})

	result := runResult{
		PlanID:    planID,
		Variables: ec.Variables,
		Verdict:   verdict,
	}
	if runErr != nil {
		result.Status = "failed"
		result.Error = runErr.Error()
	} else {
		result.Status = "completed"
	}

	if err := saveBundle(bundle{PlanID: planID, Plan: p, Traces: ec.TraceEvents}); err != nil {
		fmt.Fprintf(errOut, "ampctl run: warning: failed to persist trace bundle: %s\n", err)
	}

	if err := writeResult(result, *outFile, out); err != nil {
		fmt.Fprintf(errOut, "ampctl run: %s\n", err)
		return 1
	}

	if runErr != nil {
		return 1
	}
	return 0
}

func writeResult(result runResult, outFile string, out io.Writer) error {
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	if outFile == "" {
		_, err := fmt.Fprintln(out, string(raw))
		return err
	}
	return os.WriteFile(outFile, raw, 0o644)
}
