// Package main is the entry point for the t4dev CLI.
//
// The binary manages the AWS stack of a Tesla T4 development instance,
// checks that the GPU is usable and exercises the 4-bit dequantization
// routines. All functionality lives in internal/cli.
//
// Build-time variables (version, commit, date) are injected via ldflags.
// During development they default to "dev", "none" and "unknown".
package main

import (
	"github.com/mmr-tortoise/t4dev/internal/cli"
)

// Set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	rootCmd := cli.NewRootCommand()
	cli.Execute(rootCmd)
}
