package main

import (
	"fmt"
	"os"
)

// Version info set via ldflags at build time:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.date=2024-01-01"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one vigilctl invocation and returns the exit code.
func run(args []string) int {
	root, c := newRootCmd(os.Stdout)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if c.jsonOut {
			_ = writeJSONError(os.Stdout, err)
		} else {
			fmt.Fprintln(os.Stderr, formatError(err))
		}
		return 1
	}
	return 0
}
