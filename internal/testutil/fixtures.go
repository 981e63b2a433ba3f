package testutil

import (
	"github.com/staleproc/restartcheck/internal/history"
)

// NewRunRecord returns a RunRecord with sensible defaults, suitable for test
// fixtures. Override individual fields through options.
func NewRunRecord(opts ...func(*history.RunRecord)) history.RunRecord {
	r := history.RunRecord{
		OSFamily:    "Debian",
		StaleFiles:  1,
		Restartable: 1,
		Packages: []history.PackageRecord{
			{
				Package: "nginx-core",
				Bucket:  history.BucketRestartable,
				Command: "systemctl restart nginx.service",
			},
		},
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// WithStartedAt sets the run's start timestamp.
func WithStartedAt(ts string) func(*history.RunRecord) {
	return func(r *history.RunRecord) { r.StartedAt = ts }
}

// WithOSFamily sets the run's platform family.
func WithOSFamily(f string) func(*history.RunRecord) {
	return func(r *history.RunRecord) { r.OSFamily = f }
}

// WithKernelRestart sets the kernel-restart flag.
func WithKernelRestart(v bool) func(*history.RunRecord) {
	return func(r *history.RunRecord) { r.KernelRestart = v }
}

// WithStaleFiles sets the stale-file count.
func WithStaleFiles(n int) func(*history.RunRecord) {
	return func(r *history.RunRecord) { r.StaleFiles = n }
}

// WithBuckets sets the restartable and non-restartable package counts.
func WithBuckets(restartable, nonRestartable int) func(*history.RunRecord) {
	return func(r *history.RunRecord) {
		r.Restartable = restartable
		r.NonRestartable = nonRestartable
	}
}

// WithPackages replaces the run's flagged package rows.
func WithPackages(pkgs ...history.PackageRecord) func(*history.RunRecord) {
	return func(r *history.RunRecord) { r.Packages = pkgs }
}
