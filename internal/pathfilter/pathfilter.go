// Package pathfilter decides which mapped or opened paths count as stale
// files worth reporting. A path qualifies when it carries a deletion marker
// and does not fall under one of the exclusion rules shipped in the embedded
// catalog.
package pathfilter

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed noise.yaml
var noiseData []byte

// DeletedSuffix is the marker the kernel appends to map entries whose backing
// file was unlinked.
const DeletedSuffix = " (deleted)"

// inodeMarker matches the alternate marker some tools attach when only the
// inode of the vanished path is known.
var inodeMarker = regexp.MustCompile(`\(path inode=[0-9]+\)$`)

// Rule excludes paths by prefix or suffix. Exactly one field is set.
type Rule struct {
	Prefix string `yaml:"prefix,omitempty"`
	Suffix string `yaml:"suffix,omitempty"`
}

func (r Rule) matches(path string) bool {
	if r.Prefix != "" && strings.HasPrefix(path, r.Prefix) {
		return true
	}
	return r.Suffix != "" && strings.HasSuffix(path, r.Suffix)
}

type catalogFile struct {
	Rules []Rule `yaml:"rules"`
}

var (
	catalogOnce  sync.Once
	catalogRules []Rule
	catalogErr   error
)

func catalog() ([]Rule, error) {
	catalogOnce.Do(func() {
		var f catalogFile
		if err := yaml.Unmarshal(noiseData, &f); err != nil {
			catalogErr = fmt.Errorf("parse embedded noise catalog: %w", err)
			return
		}
		catalogRules = f.Rules
	})
	return catalogRules, catalogErr
}

// Classifier reports whether a path names a deleted or superseded file that
// should be investigated. Safe for concurrent use once built.
type Classifier struct {
	rules []Rule
}

// New builds a classifier from the embedded catalog plus any extra rules.
func New(extra ...Rule) (*Classifier, error) {
	base, err := catalog()
	if err != nil {
		return nil, err
	}
	rules := make([]Rule, 0, len(base)+len(extra))
	rules = append(rules, base...)
	rules = append(rules, extra...)
	return &Classifier{rules: rules}, nil
}

// Deleted reports whether path carries a deletion marker and survives the
// exclusion rules. The path is matched as-is, marker included, so exclusions
// see the same string the kernel produced.
func (c *Classifier) Deleted(path string) bool {
	if !strings.HasSuffix(path, DeletedSuffix) && !inodeMarker.MatchString(path) {
		return false
	}
	for _, r := range c.rules {
		if r.matches(path) {
			return false
		}
	}
	return true
}

// TrimMarker removes the deletion suffix when present. Inode markers are left
// alone since stripping them would not restore the original path either.
func TrimMarker(path string) string {
	return strings.TrimSuffix(path, DeletedSuffix)
}
