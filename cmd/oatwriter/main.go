// Command oatwriter drives the OAT build pipeline: read an oat.toml
// manifest, parse its DEX inputs, compile their methods, and emit a linked
// OAT file plus its build-history and boot-image audit records.
package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: oatwriter <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  build    Build an OAT file from an oat.toml manifest\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  oatwriter build\n")
		fmt.Fprintf(os.Stderr, "  oatwriter build -C ./myproject -v\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "build":
		handleBuildCommand(os.Args[2:])
	case "-h", "--help", "help":
		flag.Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}
