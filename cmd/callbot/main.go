// Package main provides the hospital call-bot CLI.
//
// Usage:
//
//	callbot <command> [flags]
//
// Commands:
//
//	serve     - Serve the Twilio webhooks and media stream
//	run       - Serve, then dial the target number once per scenario
//	report    - Recompute bug_report.md from the call index
//	scenarios - List the patient scenarios
//
// Configuration is read from the environment and an optional .env file.
package main

import (
	"fmt"
	"os"

	"github.com/chadiek/hospital-callbot/cmd/callbot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
