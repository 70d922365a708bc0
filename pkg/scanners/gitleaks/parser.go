package gitleaks

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/user/secsync/pkg/engine"
)

// LeakFinding mirrors one entry of the gitleaks JSON report (a top-level
// array, not an object).
type LeakFinding struct {
	RuleID      string `json:"RuleID"`
	Description string `json:"Description"`
	File        string `json:"File"`
	StartLine   int    `json:"StartLine"`
	Secret      string `json:"Secret"`
	Match       string `json:"Match"`
	Fingerprint string `json:"Fingerprint"`
}

// Parse normalizes gitleaks secret-scanner output. Every leaked secret is
// critical. The secret value itself is never copied into the finding; only
// the rule and file location survive normalization.
func Parse(data []byte, now time.Time) ([]engine.Finding, error) {
	// Gitleaks writes an empty file when nothing is found.
	if len(data) == 0 {
		return nil, nil
	}

	var leaks []LeakFinding
	if err := json.Unmarshal(data, &leaks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gitleaks json: %w", err)
	}

	var findings []engine.Finding
	for _, l := range leaks {
		if l.RuleID == "" {
			return nil, fmt.Errorf("gitleaks finding in %s has no rule id", l.File)
		}
		findings = append(findings, engine.Finding{
			ID:           stableID(l),
			Source:       "gitleaks",
			Package:      l.File,
			Severity:     engine.SeverityCritical,
			DiscoveredAt: now.UTC(),
			Description:  fmt.Sprintf("%s (rule %s)", l.Description, l.RuleID),
		})
	}
	return findings, nil
}

func stableID(l LeakFinding) string {
	if l.Fingerprint != "" {
		return "GITLEAKS-" + l.Fingerprint
	}
	h := fnv.New32a()
	h.Write([]byte(l.File))
	return fmt.Sprintf("GITLEAKS-%s-%08x", l.RuleID, h.Sum32())
}
