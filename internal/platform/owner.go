package platform

import (
	"context"
	"strings"
)

// DpkgOwner resolves file ownership through dpkg -S.
type DpkgOwner struct {
	Runner Runner
}

var _ PackageOwner = DpkgOwner{}

// Owner returns the package owning path. dpkg prints "name[:arch]: path";
// everything up to the first colon is the package name.
func (o DpkgOwner) Owner(ctx context.Context, path string) (string, error) {
	out, err := o.Runner.Run(ctx, "dpkg", "-S", path)
	if err != nil {
		return "", err
	}
	line := firstLine(out)
	if i := strings.Index(line, ":"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line), nil
}

// RpmOwner resolves file ownership through rpm -qf.
type RpmOwner struct {
	Runner Runner
}

var _ PackageOwner = RpmOwner{}

// Owner returns the package owning path. rpm exits non-zero for unowned
// files, which surfaces as an error and lets the caller fall back.
func (o RpmOwner) Owner(ctx context.Context, path string) (string, error) {
	out, err := o.Runner.Run(ctx, "rpm", "-qf", "--queryformat", "%{NAME}", path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(firstLine(out)), nil
}

// OpkgOwner resolves file ownership through opkg search.
type OpkgOwner struct {
	Runner Runner
}

var _ PackageOwner = OpkgOwner{}

// Owner returns the package owning path. opkg prints "name - version"; an
// empty result means the file is unowned.
func (o OpkgOwner) Owner(ctx context.Context, path string) (string, error) {
	out, err := o.Runner.Run(ctx, "opkg", "search", path)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(firstLine(out))
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
