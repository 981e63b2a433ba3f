package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/staleproc/restartcheck/internal/version"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		runCheck(nil)
		return
	}

	switch args[0] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	}

	// Leading flags mean an implicit check subcommand.
	if strings.HasPrefix(args[0], "-") {
		runCheck(args)
		return
	}

	switch args[0] {
	case "check":
		runCheck(args[1:])
	case "history":
		runHistory(args[1:])
	case "snapshot":
		runSnapshot(args[1:])
	case "version":
		runVersion(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `restartcheck finds processes running with deleted or superseded files
and tells you which packages to restart, or whether the host needs a reboot.

Usage:
  restartcheck [check] [flags]   analyze the host (default command)
  restartcheck history [flags]   list recorded runs
  restartcheck snapshot [flags]  record NI Linux RT baselines
  restartcheck version [flags]   print build information

Run 'restartcheck <command> -h' for command flags.
`)
}

func runVersion(args []string) {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "print version info as JSON")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	if *jsonOut {
		out, err := json.MarshalIndent(version.Map(), "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode version info: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}
	fmt.Println(version.Info())
}
