package pipaudit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/secsync/pkg/engine"
)

// Report mirrors the pip-audit JSON output shape.
type Report struct {
	Dependencies []Dependency `json:"dependencies"`
}

type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Vulns   []Vuln `json:"vulns"`
}

type Vuln struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	FixVersions []string `json:"fix_versions"`
	Aliases     []string `json:"aliases"`
	Severity    string   `json:"severity"`
}

// Parse normalizes pip-audit output. pip-audit does not always report a
// severity; missing or unparseable values default to medium rather than
// silently dropping the finding.
func Parse(data []byte, now time.Time) ([]engine.Finding, error) {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pip-audit json: %w", err)
	}

	var findings []engine.Finding
	for _, dep := range report.Dependencies {
		for _, v := range dep.Vulns {
			if v.ID == "" {
				return nil, fmt.Errorf("pip-audit vuln for %s has no id", dep.Name)
			}

			sev := engine.SeverityMedium
			if v.Severity != "" {
				if parsed, err := engine.ParseSeverity(v.Severity); err == nil {
					sev = parsed
				}
			}

			desc := v.Description
			if desc == "" && len(v.FixVersions) > 0 {
				desc = fmt.Sprintf("fixed in %s", v.FixVersions[0])
			}

			findings = append(findings, engine.Finding{
				ID:           v.ID,
				Source:       "pip-audit",
				Package:      dep.Name,
				Version:      dep.Version,
				Severity:     sev,
				DiscoveredAt: now.UTC(),
				Description:  desc,
				ReferenceURL: advisoryURL(v),
			})
		}
	}
	return findings, nil
}

func advisoryURL(v Vuln) string {
	// Prefer a GHSA alias since the advisory database has stable URLs.
	for _, a := range v.Aliases {
		if len(a) > 5 && a[:5] == "GHSA-" {
			return "https://github.com/advisories/" + a
		}
	}
	return "https://osv.dev/vulnerability/" + v.ID
}
