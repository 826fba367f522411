// Command tthsd is a demo CLI/TUI exercising internal/api end to end:
// a terminal download manager for one or more URLs, built the way the
// teacher's cmd/ package wires cobra subcommands onto a download engine.
package main

import (
	"fmt"
	"os"

	"github.com/tthsd/tthsd/cmd/tthsd/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
