package agents

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// ClassRule assigns a class and default criticality when any keyword
// matches an asset's name, class hint or attributes.
type ClassRule struct {
	Class       string   `yaml:"class"`
	Criticality string   `yaml:"criticality"`
	Keywords    []string `yaml:"keywords"`
}

// EOLRule scores an operating system string against an end-of-life pattern.
type EOLRule struct {
	Pattern string `yaml:"pattern"`
	Score   int    `yaml:"score"`
}

// Rules is the static rule set shared by the classification and tech-debt
// agents. It is read-only after load.
type Rules struct {
	Classes        []ClassRule `yaml:"classes"`
	EOL            []EOLRule   `yaml:"eol"`
	LegacyKeywords []string    `yaml:"legacy_keywords"`
}

// LoadRules parses a rule table from YAML.
func LoadRules(data []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if len(rules.Classes) == 0 {
		return nil, fmt.Errorf("rules contain no class entries")
	}
	return &rules, nil
}

// DefaultRules loads the embedded rule table.
func DefaultRules() (*Rules, error) {
	return LoadRules(defaultRulesYAML)
}
