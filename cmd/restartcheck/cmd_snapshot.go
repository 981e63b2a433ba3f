package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/staleproc/restartcheck/internal/config"
	"github.com/staleproc/restartcheck/internal/kernel"
	"github.com/staleproc/restartcheck/internal/platform"
	"github.com/staleproc/restartcheck/internal/snapshot"
	"github.com/staleproc/restartcheck/pkg/models"
)

// runSnapshot records the NI Linux RT baselines (modules.dep, nisysapi.ini,
// System API expert files and their count) that later check runs compare
// against. Upgrade tooling runs it right after a reboot.
func runSnapshot(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	stateDir := fs.String("state-dir", "", "state directory (overrides config)")

	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	dir := cfg.GetString("state.dir")
	if *stateDir != "" {
		dir = *stateDir
	}

	host, err := platform.NewHost("/", logger.Named("platform"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if host.Facts.OSFamily() != models.FamilyNILinuxRT {
		fmt.Fprintln(os.Stderr, "snapshot baselines only apply to NI Linux Real-Time hosts")
		os.Exit(1)
	}

	ctx := context.Background()
	detector := &kernel.NILRTDetector{Runner: host.Runner, Facts: host.Facts}
	versions, err := detector.Detect(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	store, err := snapshot.Open(dir, logger.Named("snapshot"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	insp := &kernel.NILRTInspector{
		Snapshots: store,
		Arch:      host.Facts.CPUArch(),
	}
	files, dirs := insp.BaselinePaths(versions[0])

	recorded := 0
	for _, f := range files {
		if err := store.Record(f); err != nil {
			logger.Warn("skip baseline file", zap.String("path", f), zap.Error(err))
			continue
		}
		recorded++
	}
	counted := 0
	for _, d := range dirs {
		if err := store.RecordCount(d); err != nil {
			logger.Warn("skip baseline directory", zap.String("path", d), zap.Error(err))
			continue
		}
		counted++
	}

	if err := store.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Recorded %d file baselines and %d directory counts under %s\n",
		recorded, counted, dir)
}
