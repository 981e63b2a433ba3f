package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/staleproc/restartcheck/internal/platform"
	"github.com/staleproc/restartcheck/pkg/models"
)

// FakeRunner replays canned command output, keyed by the full command line
// (or the script text for Shell). Unscripted commands fail loudly so tests
// notice unexpected invocations.
type FakeRunner struct {
	Out  map[string]string
	Errs map[string]error

	mu    sync.Mutex
	Calls []string
}

var _ platform.Runner = (*FakeRunner)(nil)

// NewFakeRunner returns an empty scripted runner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Out: make(map[string]string), Errs: make(map[string]error)}
}

// Script registers output for one command line.
func (r *FakeRunner) Script(key, out string) *FakeRunner {
	r.Out[key] = out
	return r
}

// Fail registers an error for one command line.
func (r *FakeRunner) Fail(key string, err error) *FakeRunner {
	r.Errs[key] = err
	return r
}

func (r *FakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	return r.replay(strings.Join(append([]string{name}, args...), " "))
}

func (r *FakeRunner) Shell(_ context.Context, script string) (string, error) {
	return r.replay(script)
}

func (r *FakeRunner) replay(key string) (string, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, key)
	r.mu.Unlock()

	if err, ok := r.Errs[key]; ok {
		return "", err
	}
	out, ok := r.Out[key]
	if !ok {
		return "", fmt.Errorf("fake runner: no script for %q", key)
	}
	return out, nil
}

// Called reports whether the runner saw the given command line.
func (r *FakeRunner) Called(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.Calls {
		if c == key {
			return true
		}
	}
	return false
}

// FakeFacts returns fixed host facts.
type FakeFacts struct {
	Family models.OSFamily
	Name   string
	Arch   string
	Uname  string
}

var _ platform.Facts = FakeFacts{}

func (f FakeFacts) OSFamily() models.OSFamily { return f.Family }
func (f FakeFacts) OS() string                { return f.Name }
func (f FakeFacts) CPUArch() string           { return f.Arch }
func (f FakeFacts) Kernel() string            { return f.Uname }

// FakeOwner resolves ownership from a fixed path-to-package table and counts
// lookups, so tests can assert memoization.
type FakeOwner struct {
	Table map[string]string
	Err   error
	Calls int
}

var _ platform.PackageOwner = (*FakeOwner)(nil)

func (o *FakeOwner) Owner(_ context.Context, path string) (string, error) {
	o.Calls++
	if o.Err != nil {
		return "", o.Err
	}
	return o.Table[path], nil
}

// FakeProbe reports service availability from a fixed set of names.
type FakeProbe struct {
	Known map[string]bool
}

var _ platform.ServiceProbe = FakeProbe{}

func (p FakeProbe) Available(_ context.Context, name string) bool {
	return p.Known[name]
}
