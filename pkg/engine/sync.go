package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ArchivedEntry is what gets appended to the scan archive when a finding is
// resolved: the finding itself plus whatever remediation state it had.
type ArchivedEntry struct {
	ArchivedAt  time.Time         `json:"archived_at"`
	Finding     Finding           `json:"finding"`
	Remediation *RemediationEntry `json:"remediation,omitempty"`
}

// SyncInvariantError reports a violation of the 1:1 mapping between active
// findings and registry entries. It is fatal: a broken registry must never be
// committed.
type SyncInvariantError struct {
	MissingEntries []string // active findings without a registry entry
	OrphanEntries  []string // registry entries without an active finding
}

func (e *SyncInvariantError) Error() string {
	var parts []string
	if len(e.MissingEntries) > 0 {
		parts = append(parts, fmt.Sprintf("findings without registry entry: %s", strings.Join(e.MissingEntries, ", ")))
	}
	if len(e.OrphanEntries) > 0 {
		parts = append(parts, fmt.Sprintf("registry entries without finding: %s", strings.Join(e.OrphanEntries, ", ")))
	}
	return "registry invariant violated: " + strings.Join(parts, "; ")
}

// Sync applies reconciliation changes to the registry. The synchronizer is
// the only code allowed to mutate the registry, and it is deliberately
// incapable of anything beyond three moves:
//   - new: insert a template entry with status "new"; an existing entry with
//     the same id is never overwritten (idempotence)
//   - resolved: archive the entry, then remove it
//   - severityChanged: update the severity mirror field only
//
// Every human-owned field passes through untouched. Status transitions other
// than creation are human-only by construction: no code path here writes any
// status but StatusNew.
func Sync(changes []SecurityChange, registry *Registry, defaults Defaults, now time.Time) []ArchivedEntry {
	var archived []ArchivedEntry
	for _, c := range changes {
		id := c.Finding.ID
		switch c.Kind {
		case ChangeNew:
			if _, exists := registry.Findings[id]; exists {
				continue
			}
			registry.Findings[id] = NewEntry(c.Finding, defaults, now)
		case ChangeResolved:
			archived = append(archived, ArchivedEntry{
				ArchivedAt:  now.UTC(),
				Finding:     c.Finding,
				Remediation: registry.Findings[id],
			})
			delete(registry.Findings, id)
		case ChangeSeverityChanged:
			if e, ok := registry.Findings[id]; ok {
				e.Severity = c.Finding.Severity
			}
		}
	}
	return archived
}

// VerifyInvariant checks that registry keys and active finding ids match
// exactly. Called after every synchronization pass, before anything is
// written to disk.
func VerifyInvariant(registry *Registry, active ScanSnapshot) error {
	findings := active.ByID()

	var missing, orphans []string
	for id := range findings {
		if _, ok := registry.Findings[id]; !ok {
			missing = append(missing, id)
		}
	}
	for id := range registry.Findings {
		if _, ok := findings[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(missing) == 0 && len(orphans) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(orphans)
	return &SyncInvariantError{MissingEntries: missing, OrphanEntries: orphans}
}
