// Package check orchestrates one analyzer run: detect the platform, compare
// kernels, scan processes for stale files, map offenders to packages,
// discover restart handles and build the plan.
package check

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/staleproc/restartcheck/internal/initsys"
	"github.com/staleproc/restartcheck/internal/kernel"
	"github.com/staleproc/restartcheck/internal/pathfilter"
	"github.com/staleproc/restartcheck/internal/pkgquery"
	"github.com/staleproc/restartcheck/internal/plan"
	"github.com/staleproc/restartcheck/internal/platform"
	"github.com/staleproc/restartcheck/internal/procscan"
	"github.com/staleproc/restartcheck/internal/snapshot"
	"github.com/staleproc/restartcheck/pkg/models"
)

// DefaultStateDir holds the NILRT snapshot baselines.
const DefaultStateDir = "/var/lib/restartcheck"

// Failures a run can report. Comment maps them to their operator-facing text.
var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrScanUnavailable     = errors.New("process scan unavailable")
)

// Comment returns the operator-facing text for a failed run.
func Comment(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedPlatform):
		return "Only available on Debian, Red Hat and NI Linux Real-Time based systems."
	case errors.Is(err, ErrScanUnavailable):
		return "Could not get list of processes. (Do you have root access?)"
	default:
		return err.Error()
	}
}

// DefaultIgnore names the packages never worth reporting: restarting screen
// kills the operator's own session, and systemd cannot be restarted this way.
var DefaultIgnore = []string{"screen", "systemd"}

// Options control one run.
type Options struct {
	// IgnoreList names packages to drop from the report. Nil selects
	// DefaultIgnore; an empty non-nil slice ignores nothing.
	IgnoreList []string
	// Blacklist drops stale file records by exact path.
	Blacklist []string
	// ExcludePIDs drops stale file records by process ID.
	ExcludePIDs []int32
	// Verbose selects the full report over the terse package list.
	Verbose bool
}

// Scanner yields the stale file records for one run.
type Scanner interface {
	Scan(ctx context.Context) ([]models.StaleFile, error)
}

// Checker runs the analysis against one host.
type Checker struct {
	host platform.Host
	log  *zap.Logger

	procRoot string
	root     string
	stateDir string
	scanner  Scanner
	lister   pkgquery.FileLister
}

// Option customizes a Checker.
type Option func(*Checker)

// WithProcRoot points the scanner and executable lookups at an alternate
// /proc.
func WithProcRoot(dir string) Option { return func(c *Checker) { c.procRoot = dir } }

// WithHostRoot prefixes every host filesystem probe, for tests.
func WithHostRoot(dir string) Option { return func(c *Checker) { c.root = dir } }

// WithStateDir relocates the NILRT snapshot state.
func WithStateDir(dir string) Option { return func(c *Checker) { c.stateDir = dir } }

// WithScanner replaces the default /proc scanner.
func WithScanner(s Scanner) Option { return func(c *Checker) { c.scanner = s } }

// WithFileLister replaces the package manager file lister.
func WithFileLister(l pkgquery.FileLister) Option { return func(c *Checker) { c.lister = l } }

// New builds a checker for host.
func New(host platform.Host, logger *zap.Logger, opts ...Option) (*Checker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Checker{
		host:     host,
		log:      logger,
		procRoot: "/proc",
		root:     "/",
		stateDir: DefaultStateDir,
	}
	for _, o := range opts {
		o(c)
	}
	if c.scanner == nil {
		classifier, err := pathfilter.New()
		if err != nil {
			return nil, err
		}
		s := procscan.New(classifier.Deleted, logger)
		s.ProcRoot = c.procRoot
		c.scanner = s
	}
	return c, nil
}

// Run executes one analysis pass and returns the report. Failed runs return
// an error suitable for Comment.
func (c *Checker) Run(ctx context.Context, opts Options) (*models.Report, error) {
	family := c.host.Facts.OSFamily()
	switch family {
	case models.FamilyDebian, models.FamilyRedHat, models.FamilyNILinuxRT:
	default:
		return nil, ErrUnsupportedPlatform
	}

	kernelRestart, err := c.kernelRestartNeeded(ctx, family)
	if err != nil {
		return nil, err
	}

	ignore := opts.IgnoreList
	if ignore == nil {
		ignore = DefaultIgnore
	}
	blacklist := make(map[string]struct{}, len(opts.Blacklist))
	for _, p := range opts.Blacklist {
		blacklist[p] = struct{}{}
	}
	excluded := make(map[int32]struct{}, len(opts.ExcludePIDs))
	for _, pid := range opts.ExcludePIDs {
		excluded[pid] = struct{}{}
	}

	stale, err := c.scanner.Scan(ctx)
	if err != nil {
		if errors.Is(err, procscan.ErrUnavailable) {
			c.log.Warn("process scan failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrScanUnavailable, err)
		}
		return nil, err
	}
	c.log.Debug("process scan finished", zap.Int("stale_files", len(stale)))

	resolver, err := pkgquery.NewResolver(c.host.Pkg, c.log)
	if err != nil {
		return nil, err
	}

	pkgs := models.NewPackageSet()
	for _, rec := range stale {
		if _, ok := blacklist[rec.Path]; ok {
			continue
		}
		if _, ok := excluded[rec.PID]; ok {
			continue
		}
		exe, err := os.Readlink(filepath.Join(c.procRoot, strconv.Itoa(int(rec.PID)), "exe"))
		if err != nil {
			// Cannot tell what binary this is; drop every record of the pid.
			excluded[rec.PID] = struct{}{}
			continue
		}
		name := resolver.Resolve(ctx, exe, rec.Process)
		if name == "" || contains(ignore, name) {
			continue
		}
		program := "\t" + strconv.Itoa(int(rec.PID)) + " " + exe + " (file: " + rec.Path + ")"
		pkgs.Upsert(name, rec.Process).AddProcess(program)
	}

	if pkgs.Len() == 0 && !kernelRestart {
		return &models.Report{StaleFiles: len(stale), Text: plan.NoRestartNotice}, nil
	}

	lister := c.lister
	if lister == nil {
		l, err := pkgquery.NewLister(c.host.Runner, family)
		if err != nil {
			return nil, err
		}
		lister = l
	}
	handles := initsys.NewResolver(lister, c.host.Service, initsys.ConfigFor(family), c.log)
	handles.Root = c.root
	for _, name := range pkgs.Names() {
		if e, ok := pkgs.Get(name); ok {
			handles.Populate(ctx, e)
		}
	}

	pl := plan.Build(pkgs, kernelRestart)
	rep := &models.Report{
		KernelRestart: kernelRestart,
		StaleFiles:    len(stale),
		Plan:          pl,
	}
	if opts.Verbose {
		rep.Text = plan.Format(pl, pkgs)
	} else {
		rep.Packages = plan.List(pl)
	}
	return rep, nil
}

// kernelRestartNeeded compares the newest installed kernel against the
// running one. On NILRT a matching version still requires a reboot when
// modules or the System API changed since the last baseline snapshot.
func (c *Checker) kernelRestartNeeded(ctx context.Context, family models.OSFamily) (bool, error) {
	detector, err := kernel.ForFamily(family, c.host)
	if err != nil {
		return false, err
	}
	if d, ok := detector.(*kernel.NILRTDetector); ok {
		d.Root = c.root
	}
	versions, err := detector.Detect(ctx)
	if err != nil {
		return false, fmt.Errorf("detect installed kernels: %w", err)
	}
	uname := c.host.Facts.Kernel()
	c.log.Debug("kernel candidates", zap.Strings("versions", versions), zap.String("uname", uname))

	var inspector *kernel.NILRTInspector
	if family == models.FamilyNILinuxRT {
		store, err := snapshot.Open(c.stateDir, c.log)
		if err != nil {
			return false, err
		}
		root := c.root
		inspector = &kernel.NILRTInspector{
			Snapshots: store,
			Arch:      c.host.Facts.CPUArch(),
			Root:      root,
			Witnessed: func() bool { return platform.WitnessedReboot(root) },
		}
	}

	for _, v := range versions {
		if v == "" || !strings.Contains(uname, v) {
			continue
		}
		if inspector != nil && inspector.RebootPending(v) {
			continue
		}
		return false, nil
	}
	return true, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
