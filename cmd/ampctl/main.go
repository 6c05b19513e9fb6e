// Command ampctl is the CLI driver over the kernel library: run a plan
// file to completion, then inspect or export its trace.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	if len(args) < 1 {
		usage(errOut)
		return 1
	}

	switch args[0] {
	case "run":
		return runRunCmd(ctx, args[1:], out, errOut)
	case "trace":
		return runTraceCmd(ctx, args[1:], out, errOut)
	case "bundle":
		return runBundleCmd(ctx, args[1:], out, errOut)
	case "-h", "--help", "help":
		usage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "ampctl: unknown command %q\n", args[0])
		usage(errOut)
		return 1
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: ampctl <command> [flags]")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run --plan-file P [--vars-file V] [--out O]")
	fmt.Fprintln(w, "  trace --plan-id ID")
	fmt.Fprintln(w, "  bundle --plan-id ID --out O")
}
