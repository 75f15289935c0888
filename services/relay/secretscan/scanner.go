// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secretscan looks for hard-coded credentials in code before it is
// deployed.
package secretscan

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/DeployHelper/services/relay/secretscan/patterns"
)

// Mode selects what a deployment does with findings.
type Mode string

const (
	// ModeOff skips scanning.
	ModeOff Mode = "off"

	// ModeWarn logs findings and writes anyway.
	ModeWarn Mode = "warn"

	// ModeBlock rejects the deployment.
	ModeBlock Mode = "block"
)

// Finding is one pattern match. The matched text itself is never kept;
// Redacted shows only its first characters.
type Finding struct {
	Line        int        `json:"line"`
	Rule        string     `json:"rule"`
	PatternID   string     `json:"patternId"`
	Description string     `json:"description"`
	Confidence  Confidence `json:"confidence"`
	Redacted    string     `json:"redacted"`
}

func (f Finding) String() string {
	return fmt.Sprintf("line %d: %s (%s)", f.Line, f.PatternID, f.Redacted)
}

// Scanner matches content against a compiled rule set. It is immutable after
// construction and safe for concurrent use.
type Scanner struct {
	rules []Rule
}

// New builds a Scanner from the embedded rule set.
func New() (*Scanner, error) {
	return NewFromYAML(patterns.SecretPatterns)
}

// NewFromYAML builds a Scanner from a rule file.
func NewFromYAML(data []byte) (*Scanner, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse the secret rules: %w", err)
	}
	if err := f.compile(); err != nil {
		return nil, fmt.Errorf("failed to compile the secret rules: %w", err)
	}
	f.sortByPriority()
	return &Scanner{rules: f.Rules}, nil
}

// Scan checks every line of content against every pattern. Findings are
// ordered by line, then by rule priority.
func (s *Scanner) Scan(content string) []Finding {
	var findings []Finding
	for i, line := range strings.Split(content, "\n") {
		for _, rule := range s.rules {
			for _, p := range rule.Patterns {
				match := p.compiled.FindString(line)
				if match == "" {
					continue
				}
				findings = append(findings, Finding{
					Line:        i + 1,
					Rule:        rule.Name,
					PatternID:   p.ID,
					Description: p.Description,
					Confidence:  p.Confidence,
					Redacted:    redact(strings.TrimSpace(match)),
				})
			}
		}
	}
	return findings
}

// PatternIDs lists the distinct pattern ids in findings, in first-seen order.
func PatternIDs(findings []Finding) []string {
	seen := make(map[string]bool, len(findings))
	var ids []string
	for _, f := range findings {
		if !seen[f.PatternID] {
			seen[f.PatternID] = true
			ids = append(ids, f.PatternID)
		}
	}
	return ids
}

func redact(s string) string {
	const keep = 4
	if len(s) <= keep {
		return strings.Repeat("*", len(s))
	}
	return s[:keep] + strings.Repeat("*", min(len(s)-keep, 8))
}
