package engine

import "sort"

// ChangeKind classifies what happened to a finding between two snapshots.
type ChangeKind string

const (
	ChangeNew             ChangeKind = "new"
	ChangeResolved        ChangeKind = "resolved"
	ChangeSeverityChanged ChangeKind = "severityChanged"
	ChangeUnchanged       ChangeKind = "unchanged"
)

// SecurityChange is one reconciliation result entry.
type SecurityChange struct {
	Kind    ChangeKind `json:"kind"`
	Finding Finding    `json:"finding"`

	// PreviousSeverity is set only for severityChanged.
	PreviousSeverity Severity `json:"previous_severity,omitempty"`
}

// BuildCurrent merges the findings reported by this run's scanners with the
// previous snapshot, applying the lifecycle rules:
//   - a known id keeps its original DiscoveredAt (immutable once set) and has
//     its missed-run counter reset
//   - a previous finding absent from the scan is carried forward with its
//     counter incremented until it reaches MissedRunLimit, at which point it
//     drops out of the active set and the reconciler will report it resolved
func BuildCurrent(previous ScanSnapshot, scanned ScanSnapshot) ScanSnapshot {
	prev := previous.ByID()
	seen := make(map[string]bool, len(scanned.Findings))

	current := ScanSnapshot{Timestamp: scanned.Timestamp}
	for _, f := range scanned.Findings {
		if old, ok := prev[f.ID]; ok {
			f.DiscoveredAt = old.DiscoveredAt
		}
		f.MissedRuns = 0
		seen[f.ID] = true
		current.Findings = append(current.Findings, f)
	}

	for _, f := range previous.Findings {
		if seen[f.ID] {
			continue
		}
		f.MissedRuns++
		if f.MissedRuns >= MissedRunLimit {
			continue
		}
		current.Findings = append(current.Findings, f)
	}
	return current
}

// Reconcile diffs two snapshots and classifies every finding. It is a pure
// set comparison with no side effects. Results are sorted by kind then id so
// downstream consumers and tests see a stable order.
func Reconcile(previous, current ScanSnapshot) []SecurityChange {
	prev := previous.ByID()
	cur := current.ByID()

	var changes []SecurityChange
	for id, f := range cur {
		old, existed := prev[id]
		switch {
		case !existed:
			changes = append(changes, SecurityChange{Kind: ChangeNew, Finding: f})
		case old.Severity != f.Severity:
			changes = append(changes, SecurityChange{
				Kind:             ChangeSeverityChanged,
				Finding:          f,
				PreviousSeverity: old.Severity,
			})
		default:
			changes = append(changes, SecurityChange{Kind: ChangeUnchanged, Finding: f})
		}
	}
	for id, f := range prev {
		if _, still := cur[id]; !still {
			changes = append(changes, SecurityChange{Kind: ChangeResolved, Finding: f})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Kind != changes[j].Kind {
			return kindOrder(changes[i].Kind) < kindOrder(changes[j].Kind)
		}
		return changes[i].Finding.ID < changes[j].Finding.ID
	})
	return changes
}

// HasEffectiveChange reports whether any change would mutate the registry or
// the rendered document. Unchanged entries are emitted for completeness but
// cause no downstream mutation.
func HasEffectiveChange(changes []SecurityChange) bool {
	for _, c := range changes {
		if c.Kind != ChangeUnchanged {
			return true
		}
	}
	return false
}

// SameActiveSet reports whether two snapshots hold the same findings,
// including severity and missed-run counters. Used by the coordinator to
// detect a no-op run and skip the commit entirely.
func SameActiveSet(a, b ScanSnapshot) bool {
	if len(a.Findings) != len(b.Findings) {
		return false
	}
	bm := b.ByID()
	for _, f := range a.Findings {
		g, ok := bm[f.ID]
		if !ok {
			return false
		}
		if f.Severity != g.Severity || f.MissedRuns != g.MissedRuns {
			return false
		}
		if !f.DiscoveredAt.Equal(g.DiscoveredAt) {
			return false
		}
	}
	return true
}

func kindOrder(k ChangeKind) int {
	switch k {
	case ChangeNew:
		return 0
	case ChangeResolved:
		return 1
	case ChangeSeverityChanged:
		return 2
	default:
		return 3
	}
}
