package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/staleproc/restartcheck/internal/platform"
	"github.com/staleproc/restartcheck/internal/snapshot"
	"github.com/staleproc/restartcheck/pkg/models"
)

const (
	// safeModeTool only exists on legacy NILRT images, where the kernel is
	// deployed as a raw boot image without package management.
	safeModeTool = "/usr/local/natinst/bin/nisafemodeversion"
	nisysapiINI  = "/usr/local/natinst/share/nisysapi.ini"

	runmodeITB     = "/boot/linux_runmode.itb"
	compressedITB  = "/var/volatile/tmp/uImage.gz"
	extractedITB   = "/var/volatile/tmp/uImage"
	runmodeBzImage = "/boot/runmode/bzImage"
)

// versionPipeline pulls the first X.Y.Z-rt token out of a kernel image.
const versionPipeline = `strings %s | awk '$1 ~ /[0-9]+\.[0-9]+\.[0-9]+-rt/ {print $1}' | head -n1`

// NILRTDetector reads the kernel version an NI Linux RT host will run. Legacy
// images carry the version only inside the boot image itself; newer,
// package-managed images encode it in the boot symlink target.
type NILRTDetector struct {
	Runner platform.Runner
	Facts  platform.Facts
	Root   string
}

var _ Detector = (*NILRTDetector)(nil)

// Detect returns the single installed kernel version.
func (d *NILRTDetector) Detect(ctx context.Context) (models.KernelVersions, error) {
	var version string
	var err error
	if d.legacy() {
		version, err = d.detectLegacy(ctx)
	} else {
		version, err = d.detectManaged()
	}
	if err != nil {
		return nil, err
	}
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, errors.New("could not determine installed NILRT kernel version")
	}
	return models.KernelVersions{version}, nil
}

func (d *NILRTDetector) legacy() bool {
	_, err := os.Stat(d.hostPath(safeModeTool))
	return err == nil
}

// detectLegacy extracts the version string from the boot image. On ARM the
// kernel sits gzipped inside a u-boot FIT image and has to be dumped first;
// failures of the extraction tools surface as an empty version downstream.
func (d *NILRTDetector) detectLegacy(ctx context.Context) (string, error) {
	image := runmodeBzImage
	if d.armBased() {
		if _, err := d.Runner.Run(ctx, "dumpimage",
			"-i", runmodeITB, "-T", "flat_dt", "-p0", "kernel", "-o", compressedITB); err != nil {
			return "", fmt.Errorf("extract run-mode kernel: %w", err)
		}
		if _, err := d.Runner.Run(ctx, "gunzip", compressedITB); err != nil {
			return "", fmt.Errorf("decompress run-mode kernel: %w", err)
		}
		image = extractedITB
	}
	out, err := d.Runner.Shell(ctx, fmt.Sprintf(versionPipeline, image))
	if err != nil {
		return "", fmt.Errorf("scan kernel image for version: %w", err)
	}
	return out, nil
}

// detectManaged reads the version suffix from the boot symlink, which
// package-managed NILRT images point at e.g. bzImage-4.14.146-rt67.
func (d *NILRTDetector) detectManaged() (string, error) {
	link, prefix := "/boot/bzImage", "bzImage-"
	if d.armBased() {
		link, prefix = "/boot/uImage", "uImage-"
	}
	target, err := os.Readlink(d.hostPath(link))
	if err != nil {
		return "", fmt.Errorf("resolve boot image link: %w", err)
	}
	return strings.TrimPrefix(filepath.Base(target), prefix), nil
}

func (d *NILRTDetector) armBased() bool {
	return strings.Contains(d.Facts.CPUArch(), "arm")
}

func (d *NILRTDetector) hostPath(path string) string {
	return filepath.Join(d.rootDir(), path)
}

func (d *NILRTDetector) rootDir() string {
	if d.Root == "" {
		return "/"
	}
	return d.Root
}

// NILRTInspector decides whether an NILRT host still owes a reboot even
// though the installed kernel version matches the running one: kernel modules
// cannot be unloaded once inserted, and System API plugin changes require
// hardware reinitialization.
type NILRTInspector struct {
	Snapshots *snapshot.Store
	Arch      string
	Root      string
	// Witnessed reports whether an earlier run already flagged a pending
	// reboot. Nil means no witness source.
	Witnessed func() bool
}

// RebootPending reports whether anything changed since the last baseline
// snapshot that only a reboot can pick up.
func (i *NILRTInspector) RebootPending(kernelVersion string) bool {
	if i.modulesChanged(kernelVersion) {
		return true
	}
	if i.sysAPIChanged() {
		return true
	}
	return i.Witnessed != nil && i.Witnessed()
}

// modulesChanged reports whether depmod touched the modules.dep of the given
// kernel since the baseline.
func (i *NILRTInspector) modulesChanged(version string) bool {
	if version == "" {
		return false
	}
	return i.Snapshots.Changed(i.hostPath("/lib/modules/" + version + "/modules.dep"))
}

// sysAPIChanged reports whether the System API configuration moved: the main
// ini file, the number of expert plugin files, or any single expert file.
func (i *NILRTInspector) sysAPIChanged() bool {
	ini := i.hostPath(nisysapiINI)
	if exists(ini) && i.Snapshots.Changed(ini) {
		return true
	}

	confD := i.expertsDir()
	if !exists(confD) {
		return false
	}
	if i.Snapshots.CountChanged(confD) {
		return true
	}
	entries, err := os.ReadDir(confD)
	if err != nil {
		return true
	}
	for _, ent := range entries {
		if i.Snapshots.Changed(filepath.Join(confD, ent.Name())) {
			return true
		}
	}
	return false
}

// BaselinePaths returns the files and directories a snapshot run should
// fingerprint for the given kernel version, in the same order the inspector
// checks them.
func (i *NILRTInspector) BaselinePaths(kernelVersion string) (files, dirs []string) {
	if kernelVersion != "" {
		files = append(files, i.hostPath("/lib/modules/"+kernelVersion+"/modules.dep"))
	}
	if ini := i.hostPath(nisysapiINI); exists(ini) {
		files = append(files, ini)
	}
	if confD := i.expertsDir(); exists(confD) {
		dirs = append(dirs, confD)
		if entries, err := os.ReadDir(confD); err == nil {
			for _, ent := range entries {
				files = append(files, filepath.Join(confD, ent.Name()))
			}
		}
	}
	return files, dirs
}

func (i *NILRTInspector) expertsDir() string {
	triple := "x86_64-linux-gnu"
	if strings.Contains(i.Arch, "arm") {
		triple = "arm-linux-gnueabi"
	}
	return i.hostPath("/usr/lib/" + triple + "/nisysapi/conf.d/experts/")
}

func (i *NILRTInspector) hostPath(path string) string {
	root := i.Root
	if root == "" {
		root = "/"
	}
	return filepath.Join(root, path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
