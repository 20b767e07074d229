// Command regionsim replays a YAML scenario through the region trigger and
// prints every firing. It is meant for checking region layouts and event
// notes without running the server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("regionsim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print firings as JSON lines")
	verbose := fs.Bool("v", false, "log blocked moves and binding problems")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: regionsim [-json] [-v] scenario.yaml")
		return 2
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
			defer logger.Sync()
		}
	}

	sc, err := LoadScenario(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	events := Replay(sc, logger)
	enc := json.NewEncoder(stdout)
	for _, ev := range events {
		if *asJSON {
			if err := enc.Encode(ev); err != nil {
				fmt.Fprintln(stderr, err)
				return 1
			}
			continue
		}
		fmt.Fprintf(stdout, "step=%d agent=%s pos=(%d,%d) region=%d %s=%d\n",
			ev.Step, ev.Agent, ev.X, ev.Y, ev.Region, ev.Kind, ev.Target)
	}
	if !*asJSON {
		fmt.Fprintf(stdout, "%d firing(s)\n", len(events))
	}
	return 0
}
