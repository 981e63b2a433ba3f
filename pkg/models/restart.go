// Package models defines the data types shared between the restartcheck
// analyzer stages and its consumers.
package models

// OSFamily identifies the package-management family of the host.
type OSFamily string

const (
	FamilyDebian    OSFamily = "Debian"
	FamilyRedHat    OSFamily = "RedHat"
	FamilyNILinuxRT OSFamily = "NILinuxRT"
	FamilyOther     OSFamily = "Other"
)

// StaleFile is one deleted-but-still-referenced file held open or mapped by a
// running process. Records are unique by the full (process, pid, path) tuple
// and live only for a single run.
type StaleFile struct {
	Process string `json:"process"`
	PID     int32  `json:"pid"`
	Path    string `json:"path"`
}

// KernelVersions lists the version strings considered equivalent to the most
// recently installed kernel for the current distribution. The running kernel
// is current when any element is a substring of the live uname string.
type KernelVersions []string

// PackageEntry accumulates everything discovered about one affected package:
// the processes holding stale files and the restart handles (init scripts,
// systemd units) that were found for it.
type PackageEntry struct {
	Name        string   `json:"name"`
	ProcessName string   `json:"process_name"`
	Processes   []string `json:"processes"`
	InitScripts []string `json:"init_scripts,omitempty"`
	Units       []string `json:"units,omitempty"`
}

// AddProcess appends a process description line unless an identical line is
// already recorded for this package.
func (e *PackageEntry) AddProcess(line string) {
	for _, p := range e.Processes {
		if p == line {
			return
		}
	}
	e.Processes = append(e.Processes, line)
}

// PackageSet is an insertion-ordered collection of package entries keyed by
// package name. Order is first-seen order, which keeps reports stable across
// the stages of a single run.
type PackageSet struct {
	order   []string
	entries map[string]*PackageEntry
}

// NewPackageSet returns an empty package set.
func NewPackageSet() *PackageSet {
	return &PackageSet{entries: make(map[string]*PackageEntry)}
}

// Upsert returns the entry for name, creating it with the given process name
// if it does not exist yet. The process name of an existing entry is not
// overwritten.
func (s *PackageSet) Upsert(name, processName string) *PackageEntry {
	if e, ok := s.entries[name]; ok {
		return e
	}
	e := &PackageEntry{Name: name, ProcessName: processName}
	s.entries[name] = e
	s.order = append(s.order, name)
	return e
}

// Get returns the entry for name if present.
func (s *PackageSet) Get(name string) (*PackageEntry, bool) {
	e, ok := s.entries[name]
	return e, ok
}

// Names returns the package names in first-seen order.
func (s *PackageSet) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of packages in the set.
func (s *PackageSet) Len() int {
	return len(s.order)
}

// Plan is the final restart plan: which packages can be restarted through a
// known init script or systemd unit, which cannot, and the concrete commands
// to run. A package appears in exactly one of Restartable/NonRestartable.
// Immutable once built.
type Plan struct {
	KernelRestart   bool     `json:"kernel_restart"`
	Restartable     []string `json:"restartable"`
	NonRestartable  []string `json:"non_restartable"`
	InitCommands    []string `json:"init_commands,omitempty"`
	ServiceCommands []string `json:"service_commands,omitempty"`

	// PackageCommands indexes the synthesized commands by package name.
	PackageCommands map[string][]string `json:"package_commands,omitempty"`
}

// Report is the outcome of one analyzer run. Exactly one of Text or Packages
// carries the operator-facing payload, depending on verbosity; Plan holds the
// structured result and is nil when the run short-circuited because nothing
// needed restarting.
type Report struct {
	KernelRestart bool     `json:"kernel_restart"`
	StaleFiles    int      `json:"stale_files"`
	Plan          *Plan    `json:"plan,omitempty"`
	Packages      []string `json:"packages,omitempty"`
	Text          string   `json:"text,omitempty"`
}
