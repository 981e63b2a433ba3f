package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/staleproc/restartcheck/internal/check"
	"github.com/staleproc/restartcheck/internal/config"
	"github.com/staleproc/restartcheck/internal/history"
	"github.com/staleproc/restartcheck/internal/metrics"
	"github.com/staleproc/restartcheck/internal/platform"
	"github.com/staleproc/restartcheck/internal/version"
	"github.com/staleproc/restartcheck/pkg/models"
)

func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	ignoreFlag := fs.String("ignore", "", "comma-separated packages to ignore (overrides config)")
	blacklistFlag := fs.String("blacklist", "", "comma-separated file paths to skip")
	excludeFlag := fs.String("exclude-pid", "", "comma-separated process IDs to skip")
	quiet := fs.Bool("quiet", false, "print one package per line instead of the full report")
	textfile := fs.String("textfile", "", "write Prometheus textfile metrics to this path")
	historyDB := fs.String("history-db", "", "append the run to this SQLite history database")
	procRoot := fs.String("proc-root", "", "alternate /proc mount")

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

	opts := check.Options{
		IgnoreList: cfg.GetStringSlice("check.ignore"),
		Blacklist:  cfg.GetStringSlice("check.blacklist"),
		Verbose:    cfg.GetBool("check.verbose") && !*quiet,
	}
	if *ignoreFlag != "" {
		opts.IgnoreList = splitCSV(*ignoreFlag)
	}
	if *blacklistFlag != "" {
		opts.Blacklist = splitCSV(*blacklistFlag)
	}
	pids, err := parsePIDs(*excludeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -exclude-pid: %v\n", err)
		os.Exit(2)
	}
	opts.ExcludePIDs = pids

	procRootVal := cfg.GetString("proc.root")
	if *procRoot != "" {
		procRootVal = *procRoot
	}
	textfilePath := cfg.GetString("metrics.textfile")
	if *textfile != "" {
		textfilePath = *textfile
	}
	historyPath := cfg.GetString("history.path")
	if *historyDB != "" {
		historyPath = *historyDB
	}

	host, err := platform.NewHost("/", logger.Named("platform"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	checker, err := check.New(host, logger.Named("check"),
		check.WithProcRoot(procRootVal),
		check.WithStateDir(cfg.GetString("state.dir")),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	started := time.Now()
	rep, err := checker.Run(ctx, opts)
	finished := time.Now()

	if err != nil {
		fmt.Fprintln(os.Stderr, check.Comment(err))
		if textfilePath != "" {
			writeFailureMetrics(textfilePath, finished, logger)
		}
		os.Exit(1)
	}

	if rep.Text != "" {
		fmt.Println(rep.Text)
	} else {
		for _, p := range rep.Packages {
			fmt.Println(p)
		}
	}

	if textfilePath != "" {
		writeRunMetrics(textfilePath, rep, finished, logger)
	}
	if historyPath != "" {
		recordRun(ctx, historyPath, rep, host, started, finished, logger)
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parsePIDs(s string) ([]int32, error) {
	if s == "" {
		return nil, nil
	}
	var pids []int32
	for _, part := range splitCSV(s) {
		pid, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%q is not a process ID", part)
		}
		pids = append(pids, int32(pid))
	}
	return pids, nil
}

// writeRunMetrics and writeFailureMetrics are best-effort: the report on
// stdout is the primary output and has already been delivered.
func writeRunMetrics(path string, rep *models.Report, at time.Time, logger *zap.Logger) {
	rec := metrics.NewRecorder()
	rec.SetBuildInfo(version.Short(), version.GitCommit)
	rec.Observe(rep)
	rec.SetLastRun(at)
	flushMetrics(path, rec, logger)
}

func writeFailureMetrics(path string, at time.Time, logger *zap.Logger) {
	rec := metrics.NewRecorder()
	rec.SetBuildInfo(version.Short(), version.GitCommit)
	rec.ObserveFailure()
	rec.SetLastRun(at)
	flushMetrics(path, rec, logger)
}

func flushMetrics(path string, rec *metrics.Recorder, logger *zap.Logger) {
	out, err := rec.Render()
	if err != nil {
		logger.Warn("render metrics", zap.Error(err))
		return
	}
	if err := metrics.WriteTextfileAtomic(path, out, 0o644); err != nil {
		logger.Warn("write metrics textfile", zap.String("path", path), zap.Error(err))
	}
}

func recordRun(ctx context.Context, path string, rep *models.Report, host platform.Host,
	started, finished time.Time, logger *zap.Logger) {
	rec := &history.RunRecord{
		StartedAt:     started.UTC().Format(time.RFC3339),
		FinishedAt:    finished.UTC().Format(time.RFC3339),
		OSFamily:      string(host.Facts.OSFamily()),
		KernelRestart: rep.KernelRestart,
		StaleFiles:    rep.StaleFiles,
	}
	if rep.Plan != nil {
		rec.Restartable = len(rep.Plan.Restartable)
		rec.NonRestartable = len(rep.Plan.NonRestartable)
		for _, name := range rep.Plan.Restartable {
			rec.Packages = append(rec.Packages, history.PackageRecord{
				Package: name,
				Bucket:  history.BucketRestartable,
				Command: strings.Join(rep.Plan.PackageCommands[name], "; "),
			})
		}
		for _, name := range rep.Plan.NonRestartable {
			rec.Packages = append(rec.Packages, history.PackageRecord{
				Package: name,
				Bucket:  history.BucketNonRestartable,
			})
		}
	}

	store, err := history.Open(path)
	if err != nil {
		logger.Warn("history store unavailable", zap.String("path", path), zap.Error(err))
		return
	}
	defer store.Close()
	if err := store.Record(ctx, rec); err != nil {
		logger.Warn("record run history", zap.Error(err))
	}
}
