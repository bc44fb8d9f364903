// Command tilelog views and analyzes tile protocol log files.
//
// Log files are created by the protocol logging infrastructure when
// running tilectl with the -capture flag.
//
// Usage:
//
//	tilelog <command> [flags] <file.tlog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSONL
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View all events
//	tilelog view session.tlog
//
//	# View only incoming protocol frames
//	tilelog view -direction in -layer protocol session.tlog
//
//	# Export to JSONL for other tooling
//	tilelog export session.tlog > session.jsonl
//
//	# Show statistics
//	tilelog stats session.tlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tile-protocol/tile-go/cmd/tilelog/commands"
)

const usage = `tilelog - Tile Protocol Log Analyzer

Usage:
  tilelog <command> [flags] <file.tlog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSONL
  stats    Show statistics about the log file

Use "tilelog <command> -help" for more information about a command.
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "view":
		err = commands.View(args[1:], os.Stdout)
	case "export":
		err = commands.Export(args[1:], os.Stdout)
	case "stats":
		err = commands.Stats(args[1:], os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tilelog: %v\n", err)
		os.Exit(1)
	}
}
