// Package main is the entry point for the transition-house directory CLI.
package main

import (
	"fmt"
	"os"

	"github.com/thatapp/transition-houses/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
