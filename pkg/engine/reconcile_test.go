package engine

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func finding(id string, sev Severity) Finding {
	return Finding{
		ID:           id,
		Source:       "pip-audit",
		Package:      "requests",
		Version:      "2.31.0",
		Severity:     sev,
		DiscoveredAt: testNow,
	}
}

func changesOfKind(changes []SecurityChange, kind ChangeKind) []SecurityChange {
	var out []SecurityChange
	for _, c := range changes {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func TestReconcileNewFinding(t *testing.T) {
	previous := ScanSnapshot{}
	current := ScanSnapshot{
		Timestamp: testNow,
		Findings:  []Finding{finding("CVE-2025-0001", SeverityHigh)},
	}

	changes := Reconcile(previous, current)
	newChanges := changesOfKind(changes, ChangeNew)
	if len(newChanges) != 1 {
		t.Fatalf("expected 1 new change, got %d", len(newChanges))
	}
	if newChanges[0].Finding.ID != "CVE-2025-0001" {
		t.Errorf("expected CVE-2025-0001, got %s", newChanges[0].Finding.ID)
	}
}

func TestReconcileResolvedFinding(t *testing.T) {
	previous := ScanSnapshot{Findings: []Finding{finding("CVE-2025-0001", SeverityHigh)}}
	current := ScanSnapshot{Timestamp: testNow}

	changes := Reconcile(previous, current)
	resolved := changesOfKind(changes, ChangeResolved)
	if len(resolved) != 1 {
		t.Fatalf("expected 1 resolved change, got %d", len(resolved))
	}
	if resolved[0].Finding.ID != "CVE-2025-0001" {
		t.Errorf("expected CVE-2025-0001, got %s", resolved[0].Finding.ID)
	}
}

func TestReconcileSeverityChanged(t *testing.T) {
	previous := ScanSnapshot{Findings: []Finding{finding("CVE-2025-0001", SeverityMedium)}}
	current := ScanSnapshot{Findings: []Finding{finding("CVE-2025-0001", SeverityCritical)}}

	changes := Reconcile(previous, current)
	changed := changesOfKind(changes, ChangeSeverityChanged)
	if len(changed) != 1 {
		t.Fatalf("expected 1 severityChanged, got %d", len(changed))
	}
	if changed[0].PreviousSeverity != SeverityMedium {
		t.Errorf("expected previous severity medium, got %s", changed[0].PreviousSeverity)
	}
	if changed[0].Finding.Severity != SeverityCritical {
		t.Errorf("expected new severity critical, got %s", changed[0].Finding.Severity)
	}
}

func TestReconcileUnchangedCausesNoMutation(t *testing.T) {
	snap := ScanSnapshot{Findings: []Finding{finding("CVE-2025-0001", SeverityHigh)}}
	changes := Reconcile(snap, snap)
	if len(changes) != 1 || changes[0].Kind != ChangeUnchanged {
		t.Fatalf("expected exactly one unchanged change, got %v", changes)
	}
	if HasEffectiveChange(changes) {
		t.Error("unchanged findings must not count as effective changes")
	}
}

func TestBuildCurrentGraceCarryover(t *testing.T) {
	previous := ScanSnapshot{Findings: []Finding{finding("CVE-2025-0001", SeverityHigh)}}
	scanned := ScanSnapshot{Timestamp: testNow}

	// First absent scan: carried forward, not resolved.
	current := BuildCurrent(previous, scanned)
	if len(current.Findings) != 1 {
		t.Fatalf("expected carryover after one missed scan, got %d findings", len(current.Findings))
	}
	if current.Findings[0].MissedRuns != 1 {
		t.Errorf("expected MissedRuns=1, got %d", current.Findings[0].MissedRuns)
	}
	if len(changesOfKind(Reconcile(previous, current), ChangeResolved)) != 0 {
		t.Error("finding must not resolve after a single missed scan")
	}

	// Second absent scan: dropped, reconciler reports resolved.
	next := BuildCurrent(current, scanned)
	if len(next.Findings) != 0 {
		t.Fatalf("expected active set empty after two missed scans, got %d", len(next.Findings))
	}
	if len(changesOfKind(Reconcile(current, next), ChangeResolved)) != 1 {
		t.Error("expected resolved change after two missed scans")
	}
}

func TestBuildCurrentReappearanceResetsCounter(t *testing.T) {
	carried := finding("CVE-2025-0001", SeverityHigh)
	carried.MissedRuns = 1
	previous := ScanSnapshot{Findings: []Finding{carried}}
	scanned := ScanSnapshot{
		Timestamp: testNow,
		Findings:  []Finding{finding("CVE-2025-0001", SeverityHigh)},
	}

	current := BuildCurrent(previous, scanned)
	if current.Findings[0].MissedRuns != 0 {
		t.Errorf("reappearance must reset MissedRuns, got %d", current.Findings[0].MissedRuns)
	}
	changes := Reconcile(previous, current)
	if len(changesOfKind(changes, ChangeNew)) != 0 {
		t.Error("reappearance within grace must not emit a new change")
	}
}

func TestBuildCurrentKeepsDiscoveredAt(t *testing.T) {
	original := finding("CVE-2025-0001", SeverityHigh)
	original.DiscoveredAt = testNow.AddDate(0, 0, -30)
	previous := ScanSnapshot{Findings: []Finding{original}}

	rescan := finding("CVE-2025-0001", SeverityHigh)
	rescan.DiscoveredAt = testNow
	scanned := ScanSnapshot{Timestamp: testNow, Findings: []Finding{rescan}}

	current := BuildCurrent(previous, scanned)
	if !current.Findings[0].DiscoveredAt.Equal(original.DiscoveredAt) {
		t.Errorf("DiscoveredAt is immutable once set, got %v", current.Findings[0].DiscoveredAt)
	}
}
