package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
)

func runBundleCmd(_ context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("bundle", flag.ContinueOnError)
	fs.SetOutput(errOut)
	planID := fs.String("plan-id", "", "plan id returned by a prior run")
	outFile := fs.String("out", "", "path to write the bundle to (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *planID == "" {
		fmt.Fprintln(errOut, "ampctl bundle: --plan-id is required")
		return 1
	}

	b, err := loadBundle(*planID)
	if err != nil {
		fmt.Fprintf(errOut, "ampctl bundle: %s\n", err)
		return 1
	}

	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		fmt.Fprintf(errOut, "ampctl bundle: %s\n", err)
		return 1
	}

	if *outFile == "" {
		fmt.Fprintln(out, string(raw))
		return 0
	}
	if err := os.WriteFile(*outFile, raw, 0o644); err != nil {
		fmt.Fprintf(errOut, "ampctl bundle: %s\n", err)
		return 1
	}
	return 0
}
