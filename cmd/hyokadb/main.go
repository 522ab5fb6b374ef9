// Package main provides the entry point for the hyokadb CLI.
package main

import (
	"os"

	"github.com/hyokadb/hyokadb/cmd/hyokadb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
