package engine

import (
	"fmt"
	"strings"
	"time"
)

// Artifacts holds the rendered output of one pipeline pass.
type Artifacts struct {
	FindingsDoc []byte
	Registry    []byte
}

// DefaultFindingsDocPath is the published findings document, relative to the
// repository root.
const DefaultFindingsDocPath = "SECURITY_FINDINGS.md"

// Render produces the published artifacts. It is pure and deterministic:
// identical inputs (including the injected clock) always produce
// byte-identical output, which is what lets the coordinator skip a commit
// when nothing functionally changed. The clock is the single impure input,
// used only for the days-active figure.
func Render(snapshot ScanSnapshot, registry *Registry, now time.Time) (Artifacts, error) {
	regBytes, err := registry.Encode()
	if err != nil {
		return Artifacts{}, err
	}

	var sb strings.Builder
	sb.WriteString("# Security Findings\n\n")
	sb.WriteString(fmt.Sprintf("Last Updated: %s\n\n", snapshot.Timestamp.UTC().Format(time.RFC3339)))

	sorted := snapshot.Sorted()
	if len(sorted) == 0 {
		sb.WriteString("_No active findings._\n")
		return Artifacts{FindingsDoc: []byte(sb.String()), Registry: regBytes}, nil
	}

	counts := make(map[Severity]int)
	for _, f := range sorted {
		counts[f.Severity]++
	}
	var summary []string
	for _, sev := range SeveritiesDescending {
		if counts[sev] > 0 {
			summary = append(summary, fmt.Sprintf("%s: %d", sev, counts[sev]))
		}
	}
	sb.WriteString(fmt.Sprintf("Active findings: %d (%s)\n", len(sorted), strings.Join(summary, ", ")))

	for _, sev := range SeveritiesDescending {
		if counts[sev] == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n## %s\n\n", sev.Title()))
		for _, f := range sorted {
			if f.Severity != sev {
				continue
			}
			writeFinding(&sb, f, registry.Findings[f.ID], now)
		}
	}

	return Artifacts{FindingsDoc: []byte(sb.String()), Registry: regBytes}, nil
}

func writeFinding(sb *strings.Builder, f Finding, entry *RemediationEntry, now time.Time) {
	sb.WriteString(fmt.Sprintf("- **%s** (%s)", f.ID, f.Source))
	if f.Package != "" {
		sb.WriteString(fmt.Sprintf(" `%s", f.Package))
		if f.Version != "" {
			sb.WriteString("@" + f.Version)
		}
		sb.WriteString("`")
	}
	sb.WriteString(fmt.Sprintf(", discovered %s, %s active\n",
		f.DiscoveredAt.UTC().Format("2006-01-02"), daysActive(f.DiscoveredAt, now)))

	if f.Description != "" {
		sb.WriteString("  " + oneLine(f.Description))
		if f.ReferenceURL != "" {
			sb.WriteString(fmt.Sprintf(" ([details](%s))", f.ReferenceURL))
		}
		sb.WriteString("\n")
	} else if f.ReferenceURL != "" {
		sb.WriteString(fmt.Sprintf("  [details](%s)\n", f.ReferenceURL))
	}

	sb.WriteString("  Remediation: " + remediationSummary(entry) + "\n")
}

func daysActive(discovered, now time.Time) string {
	days := int(now.Sub(discovered).Hours() / 24)
	if days < 0 {
		days = 0
	}
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func remediationSummary(e *RemediationEntry) string {
	if e == nil {
		// Should be unreachable once the invariant check has passed.
		return "unknown"
	}
	parts := []string{string(e.Status)}
	if e.AssignedTo != "" {
		parts = append(parts, "assigned to "+e.AssignedTo)
	}
	if e.TargetDate != "" {
		parts = append(parts, "target "+e.TargetDate)
	}
	if e.Workaround != "" {
		parts = append(parts, "workaround in place")
	}
	return strings.Join(parts, ", ")
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.Join(strings.Fields(s), " ")
}
