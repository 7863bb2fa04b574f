// Command roomcore runs the real-time control-plane coordinator for a
// single physical room of networked devices.
package main

import (
	"fmt"
	"os"

	"github.com/roomctl/roomcore/cmd/roomcore/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
