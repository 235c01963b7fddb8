// Package vfsconfig parses the mount-map configuration (spec §6) — a
// `gopkg.in/yaml.v2`-tagged Configuration tree following the teacher's
// internal/config/config.go shape — and validates each backend's options
// against a declared schema, suggesting a correction for unknown keys via
// edit distance (grounded on the suggest-on-typo helper in
// cmd/bureau/cli/suggest.go from the retrieval pack).
package vfsconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/vfscore/pkg/vfserr"
)

// Configuration is the top-level YAML document: a named mount map plus the
// ambient logging settings every mounted backend shares. It has no metrics
// section.
type Configuration struct {
	Mounts  map[string]BackendSpec `yaml:"mounts"`
	Logging LoggingConfig          `yaml:"logging"`
}

// LoggingConfig mirrors the teacher's GlobalConfig.LogLevel/LogFile pair.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// BackendSpec is one mount-map entry. A bare backend name ("memory", "s3")
// unmarshals into Name with no Options, per spec §6's "a backend name alone
// is shorthand for {fs: name}".
type BackendSpec struct {
	Name    string
	Options map[string]interface{}
}

// UnmarshalYAML accepts either a scalar string or a mapping with an "fs"
// key plus arbitrary option keys.
func (b *BackendSpec) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		b.Name = name
		b.Options = nil
		return nil
	}

	var raw map[string]interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	fsName, ok := raw["fs"].(string)
	if !ok {
		return fmt.Errorf("vfsconfig: mount entry missing string \"fs\" key")
	}
	delete(raw, "fs")
	b.Name = fsName
	b.Options = raw
	return nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vfserr.New(vfserr.ENOENT, "failed to read configuration file").WithPath(path).WithCause(err)
	}
	var cfg Configuration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, vfserr.New(vfserr.EINVAL, "failed to parse configuration").WithPath(path).WithCause(err)
	}
	return &cfg, nil
}

// OptionKind is the declared type of a backend option value.
type OptionKind int

const (
	KindString OptionKind = iota
	KindInt
	KindBool
)

// OptionDef describes one entry in a backend's options schema.
type OptionDef struct {
	Type        OptionKind
	Optional    bool
	Description string
	Validator   func(interface{}) error
}

// Schema is a backend constructor's declared option set, keyed by option
// name.
type Schema map[string]OptionDef

// Validate checks spec's options against schema: unknown keys raise EINVAL
// with a Levenshtein-suggested correction; type mismatches raise EINVAL;
// missing required options raise EINVAL.
func Validate(schema Schema, options map[string]interface{}) error {
	known := make([]string, 0, len(schema))
	for name := range schema {
		known = append(known, name)
	}

	for key, value := range options {
		def, ok := schema[key]
		if !ok {
			if suggestion := closestMatch(key, known); suggestion != "" {
				return vfserr.Newf(vfserr.EINVAL, "unknown option %q; did you mean %q?", key, suggestion)
			}
			return vfserr.Newf(vfserr.EINVAL, "unknown option %q", key)
		}
		if !matchesKind(def.Type, value) {
			return vfserr.Newf(vfserr.EINVAL, "option %q has the wrong type", key)
		}
		if def.Validator != nil {
			if err := def.Validator(value); err != nil {
				return vfserr.Newf(vfserr.EINVAL, "option %q is invalid: %v", key, err)
			}
		}
	}

	for name, def := range schema {
		if def.Optional {
			continue
		}
		if _, ok := options[name]; !ok {
			return vfserr.Newf(vfserr.EINVAL, "missing required option %q", name)
		}
	}
	return nil
}

func matchesKind(kind OptionKind, value interface{}) bool {
	switch kind {
	case KindString:
		_, ok := value.(string)
		return ok
	case KindInt:
		switch value.(type) {
		case int, int64:
			return true
		default:
			return false
		}
	case KindBool:
		_, ok := value.(bool)
		return ok
	default:
		return false
	}
}

// closestMatch returns the candidate within edit distance 3 of key, or ""
// if none are close enough — the same threshold and algorithm as the
// suggest-on-typo helper this package is grounded on.
func closestMatch(key string, candidates []string) string {
	best := ""
	bestDistance := 4
	for _, c := range candidates {
		if d := levenshtein(key, c); d < bestDistance {
			bestDistance = d
			best = c
		}
	}
	return best
}

// levenshtein computes edit distance with a single-row rolling buffer.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	if len(a) > len(b) {
		a, b = b, a
	}

	previous := make([]int, len(a)+1)
	for i := range previous {
		previous[i] = i
	}

	for j := 1; j <= len(b); j++ {
		current := make([]int, len(a)+1)
		current[0] = j
		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			deletion := previous[i] + 1
			insertion := current[i-1] + 1
			substitution := previous[i-1] + cost
			current[i] = min3(deletion, insertion, substitution)
		}
		previous = current
	}
	return previous[len(a)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
