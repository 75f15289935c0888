// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secretscan

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

type Confidence string

const (
	Low    Confidence = "low"
	Medium Confidence = "medium"
	High   Confidence = "high"
)

// UnmarshalYAML rejects unknown confidence levels.
func (c *Confidence) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch Confidence(s) {
	case Low, Medium, High:
		*c = Confidence(s)
		return nil
	default:
		return fmt.Errorf("invalid confidence level %q", s)
	}
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Rule groups patterns that detect one kind of credential.
type Rule struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

type Pattern struct {
	ID          string     `yaml:"id"`
	Description string     `yaml:"description"`
	Regex       string     `yaml:"regex"`
	Confidence  Confidence `yaml:"confidence"`

	compiled *regexp.Regexp
}

func (f *ruleFile) compile() error {
	for i := range f.Rules {
		rule := &f.Rules[i]
		for j := range rule.Patterns {
			p := &rule.Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return fmt.Errorf("rule %s pattern %s: %w", rule.Name, p.ID, err)
			}
			p.compiled = re
		}
	}
	return nil
}

func (f *ruleFile) sortByPriority() {
	sort.SliceStable(f.Rules, func(i, j int) bool {
		return f.Rules[i].Priority > f.Rules[j].Priority
	})
}
