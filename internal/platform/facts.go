package platform

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/staleproc/restartcheck/pkg/models"
)

// SysFacts carries the identity facts detected once at startup.
type SysFacts struct {
	family models.OSFamily
	osName string
	arch   string
	kernel string
}

var _ Facts = (*SysFacts)(nil)

// DetectFacts reads os-release and uname from the host. The root prefix
// exists so tests can point the os-release lookup at a scratch tree; pass "/"
// in production. A missing or unparseable os-release yields FamilyOther
// rather than an error, since unsupported hosts are reported later with a
// proper message.
func DetectFacts(root string) (*SysFacts, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return nil, fmt.Errorf("uname: %w", err)
	}

	f := &SysFacts{
		family: models.FamilyOther,
		arch:   utsField(uts.Machine),
		kernel: strings.Join([]string{
			utsField(uts.Sysname),
			utsField(uts.Nodename),
			utsField(uts.Release),
			utsField(uts.Version),
			utsField(uts.Machine),
		}, " "),
	}

	rel, err := parseOSRelease(filepath.Join(root, "etc/os-release"))
	if err != nil {
		return f, nil
	}
	f.family = classifyFamily(rel["ID"], strings.Fields(rel["ID_LIKE"]))
	if name := strings.Fields(rel["NAME"]); len(name) > 0 {
		f.osName = name[0]
	}
	return f, nil
}

// OSFamily returns the package-management family of the host.
func (f *SysFacts) OSFamily() models.OSFamily { return f.family }

// OS returns the first word of the distribution name, e.g. "Ubuntu".
func (f *SysFacts) OS() string { return f.osName }

// CPUArch returns the machine hardware name, e.g. "x86_64" or "armv7l".
func (f *SysFacts) CPUArch() string { return f.arch }

// Kernel returns the running kernel described the way uname -a prints it,
// with the release immediately followed by the build version.
func (f *SysFacts) Kernel() string { return f.kernel }

func utsField(b [65]byte) string {
	if i := bytes.IndexByte(b[:], 0); i >= 0 {
		return string(b[:i])
	}
	return string(b[:])
}

// parseOSRelease reads the KEY=VALUE pairs from an os-release file, stripping
// surrounding quotes from values.
func parseOSRelease(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	fields := make(map[string]string)
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, `"'`)
	}
	return fields, sc.Err()
}

// classifyFamily maps an os-release ID plus its ID_LIKE chain onto the
// families the analyzer knows how to handle. The concrete ID wins over the
// ID_LIKE entries, so NI Linux RT is never misfiled even though it descends
// from other distributions.
func classifyFamily(id string, idLike []string) models.OSFamily {
	for _, v := range append([]string{id}, idLike...) {
		switch v {
		case "nilrt":
			return models.FamilyNILinuxRT
		case "debian", "ubuntu", "raspbian":
			return models.FamilyDebian
		case "rhel", "fedora", "centos", "rocky", "almalinux", "ol", "amzn", "scientific":
			return models.FamilyRedHat
		}
	}
	return models.FamilyOther
}

// WitnessedReboot reports whether an earlier run left the reboot-required
// marker behind. On NI Linux RT the marker is written when a pending reboot
// was observed but has not happened yet.
func WitnessedReboot(root string) bool {
	_, err := os.Stat(filepath.Join(root, "var/run/reboot-required"))
	return err == nil
}
