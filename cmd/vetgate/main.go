package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "history":
		err = runHistory(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `vetgate - validation workflow engine

Usage:
  vetgate serve              start the MCP server on stdio
  vetgate history [flags]    query run history, optionally through a jq filter
  vetgate validate [flags]   validate stored workflows before activation
  vetgate version            print the build version

Run "vetgate <command> -h" for command flags.
`)
}
