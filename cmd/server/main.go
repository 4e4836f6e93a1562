// Package main is the entry point for the procurement orchestrator.
//
// Import Path: procurement.io/orchestrator/cmd/server
package main

import (
	"fmt"
	"os"

	"procurement.io/orchestrator/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
