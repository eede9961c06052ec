// Package main provides the entry point for the convoy CLI.
package main

import (
	"fmt"
	"os"

	"github.com/convoy-ai/convoy/cmd/convoy/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
