// Package main is the entry point for loadctl.
// loadctl is the operator terminal tool for the loadplane API.
package main

import (
	"loadplane/cmd/cli/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
