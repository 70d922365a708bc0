package bandit

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/user/secsync/pkg/engine"
)

// Report mirrors the bandit JSON output shape.
type Report struct {
	Results []Result `json:"results"`
}

type Result struct {
	TestID          string `json:"test_id"`
	TestName        string `json:"test_name"`
	IssueSeverity   string `json:"issue_severity"`
	IssueConfidence string `json:"issue_confidence"`
	IssueText       string `json:"issue_text"`
	Filename        string `json:"filename"`
	LineNumber      int    `json:"line_number"`
	MoreInfo        string `json:"more_info"`
}

// Parse normalizes bandit static-analysis output. Bandit findings have no
// external identifier, so a stable one is derived from the test id and a hash
// of the file path. Line numbers are deliberately excluded: edits elsewhere
// in the file must not change a finding's identity.
func Parse(data []byte, now time.Time) ([]engine.Finding, error) {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bandit json: %w", err)
	}

	var findings []engine.Finding
	for _, r := range report.Results {
		if r.TestID == "" {
			return nil, fmt.Errorf("bandit result in %s has no test_id", r.Filename)
		}
		sev, err := engine.ParseSeverity(r.IssueSeverity)
		if err != nil {
			return nil, fmt.Errorf("bandit result %s: %w", r.TestID, err)
		}

		findings = append(findings, engine.Finding{
			ID:           stableID(r),
			Source:       "bandit",
			Package:      r.Filename,
			Severity:     sev,
			DiscoveredAt: now.UTC(),
			Description:  fmt.Sprintf("%s: %s", r.TestName, r.IssueText),
			ReferenceURL: r.MoreInfo,
		})
	}
	return findings, nil
}

func stableID(r Result) string {
	h := fnv.New32a()
	h.Write([]byte(r.Filename))
	return fmt.Sprintf("BANDIT-%s-%08x", r.TestID, h.Sum32())
}
