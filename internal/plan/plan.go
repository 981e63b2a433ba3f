// Package plan turns the set of affected packages into a restart plan and
// renders the operator-facing report.
package plan

import (
	"fmt"
	"strings"

	"github.com/staleproc/restartcheck/pkg/models"
)

// Operator-facing notices. The wording is load-bearing: fleet tooling greps
// for these exact strings.
const (
	NoRestartNotice     = "No packages seem to need to be restarted."
	KernelRestartNotice = "System restart required."
)

// Build sorts the packages into restartable and non-restartable buckets and
// synthesizes the restart commands, preserving package discovery order. A
// package with both init scripts and units is restarted through its init
// scripts only.
func Build(pkgs *models.PackageSet, kernelRestart bool) *models.Plan {
	p := &models.Plan{
		KernelRestart:   kernelRestart,
		PackageCommands: make(map[string][]string),
	}
	for _, name := range pkgs.Names() {
		e, ok := pkgs.Get(name)
		if !ok {
			continue
		}
		switch {
		case len(e.InitScripts) > 0:
			p.Restartable = append(p.Restartable, name)
			for _, s := range e.InitScripts {
				cmd := "service " + s + " restart"
				p.InitCommands = append(p.InitCommands, cmd)
				p.PackageCommands[name] = append(p.PackageCommands[name], cmd)
			}
		case len(e.Units) > 0:
			p.Restartable = append(p.Restartable, name)
			for _, u := range e.Units {
				cmd := "systemctl restart " + u
				p.ServiceCommands = append(p.ServiceCommands, cmd)
				p.PackageCommands[name] = append(p.PackageCommands[name], cmd)
			}
		default:
			p.NonRestartable = append(p.NonRestartable, name)
		}
	}
	return p
}

// List renders the terse payload: restartable packages first, then
// non-restartable ones, then the kernel notice when due.
func List(p *models.Plan) []string {
	out := make([]string, 0, len(p.Restartable)+len(p.NonRestartable)+1)
	out = append(out, p.Restartable...)
	out = append(out, p.NonRestartable...)
	if p.KernelRestart {
		out = append(out, KernelRestartNotice)
	}
	return out
}

// Format renders the verbose report.
func Format(p *models.Plan, pkgs *models.PackageSet) string {
	var b strings.Builder
	if p.KernelRestart {
		b.WriteString(KernelRestartNotice + "\n\n")
	}
	if pkgs.Len() > 0 {
		fmt.Fprintf(&b, "Found %d processes using old versions of upgraded files.\n", pkgs.Len())
		b.WriteString("These are the packages:\n")
	}
	if len(p.Restartable) > 0 {
		fmt.Fprintf(&b, "Of these, %d seem to contain systemd service definitions or init scripts which can be used to restart them:\n",
			len(p.Restartable))
		writePackageBlocks(&b, p.Restartable, pkgs)

		if len(p.ServiceCommands) > 0 {
			b.WriteString("\n\nThese are the systemd services:\n")
			b.WriteString(strings.Join(p.ServiceCommands, "\n"))
		}
		if len(p.InitCommands) > 0 {
			b.WriteString("\n\nThese are the initd scripts:\n")
			b.WriteString(strings.Join(p.InitCommands, "\n"))
		}
	}
	if len(p.NonRestartable) > 0 {
		fmt.Fprintf(&b, "\n\nThese processes %d do not seem to have an associated init script to restart them:\n",
			len(p.NonRestartable))
		writePackageBlocks(&b, p.NonRestartable, pkgs)
	}
	return b.String()
}

func writePackageBlocks(b *strings.Builder, names []string, pkgs *models.PackageSet) {
	for _, name := range names {
		b.WriteString(name + ":\n")
		e, ok := pkgs.Get(name)
		if !ok {
			continue
		}
		for _, prog := range e.Processes {
			b.WriteString(prog + "\n")
		}
	}
}
