// Command crossval drives the cross-validation execution engine from the
// command line: validating partition data and balance, and executing a
// fold's held-out documents with checkpointed batches. The per-document
// pipeline is supplied by the host build; this binary ships a dry-run
// pipeline that exercises the engine without a model backend.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
