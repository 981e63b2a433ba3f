package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/staleproc/restartcheck/internal/config"
	"github.com/staleproc/restartcheck/internal/history"
)

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	dbPath := fs.String("history-db", "", "history database path (overrides config)")
	limit := fs.Int("n", 20, "number of runs to show")
	runID := fs.String("run", "", "show the packages flagged during one run")
	jsonOut := fs.Bool("json", false, "print as JSON")

	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	path := cfg.GetString("history.path")
	if *dbPath != "" {
		path = *dbPath
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no history database configured (set history.path or pass -history-db)")
		os.Exit(1)
	}

	store, err := history.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	if *runID != "" {
		printRunPackages(ctx, store, *runID, *jsonOut)
		return
	}

	runs, err := store.List(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if *jsonOut {
		printJSON(runs)
		return
	}
	for _, r := range runs {
		fmt.Printf("%s  %s  family=%s kernel_restart=%t stale=%d restartable=%d non_restartable=%d\n",
			r.StartedAt, r.ID, r.OSFamily, r.KernelRestart,
			r.StaleFiles, r.Restartable, r.NonRestartable)
	}
}

func printRunPackages(ctx context.Context, store *history.Store, runID string, jsonOut bool) {
	pkgs, err := store.Packages(ctx, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		printJSON(pkgs)
		return
	}
	for _, p := range pkgs {
		line := p.Package + "  " + p.Bucket
		if p.Command != "" {
			line += "  " + p.Command
		}
		fmt.Println(line)
	}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
