package categorizer

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fallback is the catch-all label applied when no rule matches.
const Fallback = "OUTROS"

// Rule tags text with Label when any of its triggers occurs in it.
type Rule struct {
	Label    string   `yaml:"label" json:"label"`
	Triggers []string `yaml:"triggers" json:"triggers"`
}

// Rules is an ordered rule set. Declaration order is the order labels
// appear in a classification result.
type Rules []Rule

// DefaultRules returns the built-in rule set.
func DefaultRules() Rules {
	return Rules{
		{Label: "NORMAS_RH", Triggers: []string{"férias", "norma", "vestimenta", "dress code", "conduta", "reembolso"}},
		{Label: "DOCUMENTOS", Triggers: []string{"documento", "formulário", "template"}},
		{Label: "ACESSO_SISTEMAS", Triggers: []string{"acesso", "login", "senha", "parou de funcionar", "não consigo aceder", "seguroauto"}},
	}
}

type ruleFile struct {
	Rules Rules `yaml:"rules"`
}

// LoadRules reads a YAML rule file of the form
//
//	rules:
//	  - label: NORMAS_RH
//	    triggers: [férias, norma]
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if err := rf.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return rf.Rules, nil
}

// Validate rejects rule sets that could yield ambiguous results.
func (rs Rules) Validate() error {
	if len(rs) == 0 {
		return fmt.Errorf("no rules defined")
	}
	seen := make(map[string]bool, len(rs))
	for i, r := range rs {
		label := strings.TrimSpace(r.Label)
		switch {
		case label == "":
			return fmt.Errorf("rule %d: empty label", i)
		case label == Fallback:
			return fmt.Errorf("rule %d: label %s is reserved", i, Fallback)
		case seen[label]:
			return fmt.Errorf("rule %d: duplicate label %s", i, label)
		case len(r.Triggers) == 0:
			return fmt.Errorf("rule %s: no triggers", label)
		}
		for _, trig := range r.Triggers {
			if trig == "" {
				return fmt.Errorf("rule %s: empty trigger", label)
			}
		}
		seen[label] = true
	}
	return nil
}

// Labels returns the rule labels in declaration order.
func (rs Rules) Labels() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Label
	}
	return out
}

// Categorizer applies a fixed rule set to normalized text.
type Categorizer struct {
	rules Rules
}

// New creates a Categorizer over a private copy of rules.
func New(rules Rules) *Categorizer {
	cp := make(Rules, len(rules))
	for i, r := range rules {
		cp[i] = Rule{Label: r.Label, Triggers: append([]string(nil), r.Triggers...)}
	}
	return &Categorizer{rules: cp}
}

// Rules returns a copy of the active rule set.
func (c *Categorizer) Rules() Rules {
	return New(c.rules).rules
}

// Classify returns every label whose triggers occur as substrings of clean,
// in rule order, or [Fallback] when none do. The result is never empty.
func (c *Categorizer) Classify(clean string) []string {
	var labels []string
	for _, r := range c.rules {
		for _, trig := range r.Triggers {
			if strings.Contains(clean, trig) {
				labels = append(labels, r.Label)
				break
			}
		}
	}
	if len(labels) == 0 {
		return []string{Fallback}
	}
	return labels
}
