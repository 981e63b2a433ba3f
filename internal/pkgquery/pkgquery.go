// Package pkgquery maps executables and packages through the distribution's
// package manager: which package owns a file, and which files a package
// installed.
package pkgquery

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/staleproc/restartcheck/internal/platform"
	"github.com/staleproc/restartcheck/pkg/models"
)

// ownerCacheSize bounds the per-run memoization of ownership lookups. A run
// rarely sees more than a few dozen distinct executables.
const ownerCacheSize = 512

// Resolver memoizes file-to-package lookups for the duration of one run.
// Lookup results are cached fallback included, so a failing path is not
// queried twice.
type Resolver struct {
	owner platform.PackageOwner
	cache *lru.Cache[string, string]
	log   *zap.Logger
}

// NewResolver returns a resolver over the given package owner.
func NewResolver(owner platform.PackageOwner, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, string](ownerCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build owner cache: %w", err)
	}
	return &Resolver{owner: owner, cache: cache, log: logger}, nil
}

// Resolve returns the package owning exe. When the lookup fails or nothing
// owns the file, the process name is returned instead so the process still
// shows up in the report.
func (r *Resolver) Resolve(ctx context.Context, exe, processName string) string {
	if name, ok := r.cache.Get(exe); ok {
		return name
	}
	name, err := r.owner.Owner(ctx, exe)
	if err != nil {
		r.log.Debug("package ownership lookup failed",
			zap.String("path", exe), zap.Error(err))
		name = ""
	}
	if name == "" {
		name = processName
	}
	r.cache.Add(exe, name)
	return name
}

// FileLister lists the files installed by a package.
type FileLister interface {
	Files(ctx context.Context, pkg string) ([]string, error)
}

var listCommands = map[models.OSFamily][]string{
	models.FamilyDebian:    {"dpkg-query", "--listfiles"},
	models.FamilyRedHat:    {"repoquery", "-l"},
	models.FamilyNILinuxRT: {"opkg", "files"},
}

// CommandLister queries the family's package manager for installed file
// lists.
type CommandLister struct {
	runner platform.Runner
	argv   []string
}

var _ FileLister = (*CommandLister)(nil)

// NewLister returns the file lister for the given OS family.
func NewLister(runner platform.Runner, family models.OSFamily) (*CommandLister, error) {
	argv, ok := listCommands[family]
	if !ok {
		return nil, fmt.Errorf("no package query command for OS family %q", family)
	}
	return &CommandLister{runner: runner, argv: argv}, nil
}

// Files returns the absolute paths installed by pkg. Header and diversion
// lines in the package manager output are dropped; only absolute paths
// survive.
func (l *CommandLister) Files(ctx context.Context, pkg string) ([]string, error) {
	args := append(append([]string{}, l.argv[1:]...), pkg)
	out, err := l.runner.Run(ctx, l.argv[0], args...)
	if err != nil {
		return nil, fmt.Errorf("list files of package %s: %w", pkg, err)
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "/") {
			paths = append(paths, line)
		}
	}
	return paths, nil
}
