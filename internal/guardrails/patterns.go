package guardrails

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatternsYAML []byte

// Patterns holds the term lists the engine matches against.
type Patterns struct {
	Blocked       []string `yaml:"blocked"`
	Injection     []string `yaml:"injection"`
	AllowedTopics []string `yaml:"allowed_topics"`
}

// DefaultPatterns returns the built-in term lists.
func DefaultPatterns() Patterns {
	p, err := parsePatterns(defaultPatternsYAML)
	if err != nil {
		// The embedded file is part of the binary; a parse failure is a
		// build defect.
		panic(fmt.Sprintf("guardrails: embedded patterns: %v", err))
	}
	return p
}

// DefaultPatternsYAML returns the built-in term lists as YAML, the
// starting point for an override file.
func DefaultPatternsYAML() []byte {
	return append([]byte(nil), defaultPatternsYAML...)
}

// LoadPatterns reads an override file. Lists missing from the file keep
// their built-in values.
func LoadPatterns(path string) (Patterns, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Patterns{}, fmt.Errorf("read patterns: %w", err)
	}
	override, err := parsePatterns(data)
	if err != nil {
		return Patterns{}, fmt.Errorf("parse patterns %s: %w", path, err)
	}

	p := DefaultPatterns()
	if len(override.Blocked) > 0 {
		p.Blocked = override.Blocked
	}
	if len(override.Injection) > 0 {
		p.Injection = override.Injection
	}
	if len(override.AllowedTopics) > 0 {
		p.AllowedTopics = override.AllowedTopics
	}
	return p, nil
}

func parsePatterns(data []byte) (Patterns, error) {
	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Patterns{}, err
	}
	return p, nil
}

// normalize lower-cases, trims and drops empty terms.
func normalize(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
