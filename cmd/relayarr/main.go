// Package main is the entry point for the relayarr application.
package main

import (
	"os"

	"github.com/jmylchreest/relayarr/cmd/relayarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
