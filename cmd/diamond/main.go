// Package main is the diamond command: it serves a diamond over HTTP and
// offers selector and storage slot tooling.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/R3E-Network/diamond_layer/internal/selector"
	"github.com/R3E-Network/diamond_layer/internal/storage"
)

const usage = `usage: diamond <command> [arguments]

commands:
  serve [-env file]             load config and manifest, apply the cut, serve HTTP
  selectors <abi.json>          print the selector of every function in an ABI
  slot <namespace> [offset]     print the storage slot of a namespace
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "diamond:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "serve":
		fs := flag.NewFlagSet("serve", flag.ContinueOnError)
		envFile := fs.String("env", ".env", "Optional .env file")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if v := os.Getenv("DIAMOND_ENV_FILE"); v != "" {
			*envFile = v
		}
		return serve(*envFile)

	case "selectors":
		if len(args) != 2 {
			return fmt.Errorf("selectors: expected one ABI file")
		}
		return printSelectors(args[1], stdout)

	case "slot":
		if len(args) < 2 || len(args) > 3 {
			return fmt.Errorf("slot: expected a namespace and an optional offset")
		}
		var offset uint64
		if len(args) == 3 {
			n, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("slot: offset: %w", err)
			}
			offset = n
		}
		fmt.Fprintln(stdout, storage.SlotFor(args[1]).Offset(offset))
		return nil

	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil

	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printSelectors(path string, stdout io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("selectors: %w", err)
	}
	fns, err := selector.FromABI(data)
	if err != nil {
		return fmt.Errorf("selectors: %w", err)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, fn := range fns {
		fmt.Fprintf(tw, "%s\t%s\n", fn.Selector, fn.Signature)
	}
	if len(fns) > 1 {
		sels := make([]selector.Selector, len(fns))
		for i, fn := range fns {
			sels[i] = fn.Selector
		}
		fmt.Fprintf(tw, "%s\t%s\n", selector.InterfaceID(sels...), "interface id")
	}
	return tw.Flush()
}
