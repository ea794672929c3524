// Command ruvo runs the RUVO voice companion.
//
// Usage:
//
//	ruvo [flags] <command> [args]
//
// Commands:
//
//	serve       - Run the web control surface and the voice loop
//	chat        - Converse in the terminal, one line per turn
//	say         - Speak text with the configured voices
//	voices      - List or select the assistant voice
//	keys stats  - Show credential pool usage
//	keys reset  - Reactivate every credential
//
// Configuration comes from an optional YAML file (--config), a .env file
// and the environment. See internal/config for the variables.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
