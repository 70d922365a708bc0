package engine

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func registryFor(snap ScanSnapshot) *Registry {
	reg := NewRegistry()
	Sync(Reconcile(ScanSnapshot{}, snap), reg, DefaultEntryDefaults(), testNow)
	return reg
}

func TestRenderIsDeterministic(t *testing.T) {
	snap := ScanSnapshot{
		Timestamp: testNow,
		Findings: []Finding{
			finding("CVE-2025-0001", SeverityHigh),
			finding("CVE-2025-0002", SeverityCritical),
		},
	}
	reg := registryFor(snap)

	first, err := Render(snap, reg, testNow)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := Render(snap, reg, testNow)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first.FindingsDoc, again.FindingsDoc) || !bytes.Equal(first.Registry, again.Registry) {
			t.Fatal("identical inputs must render byte-identical artifacts")
		}
	}
}

func TestRenderSeverityOrdering(t *testing.T) {
	// A critical finding discovered yesterday must list before a high
	// finding discovered last week.
	critical := finding("CVE-2025-0002", SeverityCritical)
	critical.DiscoveredAt = testNow.AddDate(0, 0, -1)
	high := finding("CVE-2025-0001", SeverityHigh)
	high.DiscoveredAt = testNow.AddDate(0, 0, -7)

	snap := ScanSnapshot{Timestamp: testNow, Findings: []Finding{high, critical}}
	artifacts, err := Render(snap, registryFor(snap), testNow)
	if err != nil {
		t.Fatal(err)
	}

	doc := string(artifacts.FindingsDoc)
	criticalIdx := strings.Index(doc, "CVE-2025-0002")
	highIdx := strings.Index(doc, "CVE-2025-0001")
	if criticalIdx < 0 || highIdx < 0 {
		t.Fatalf("both findings must appear in the document:\n%s", doc)
	}
	if criticalIdx > highIdx {
		t.Error("critical finding must render before high finding")
	}
	if !strings.Contains(doc, "## Critical") || !strings.Contains(doc, "## High") {
		t.Error("expected one section per non-empty severity group")
	}
}

func TestRenderSingleHighEntryScenario(t *testing.T) {
	snap := ScanSnapshot{Timestamp: testNow, Findings: []Finding{finding("CVE-2025-0001", SeverityHigh)}}
	artifacts, err := Render(snap, registryFor(snap), testNow)
	if err != nil {
		t.Fatal(err)
	}

	doc := string(artifacts.FindingsDoc)
	if !strings.Contains(doc, "## High") {
		t.Fatalf("expected a High section:\n%s", doc)
	}
	if got := strings.Count(doc, "- **"); got != 1 {
		t.Errorf("expected exactly one entry, got %d", got)
	}
	if !strings.Contains(doc, "`requests@2.31.0`, discovered 2026-08-29, 0 days active") {
		t.Errorf("entry line format wrong:\n%s", doc)
	}
	if !strings.Contains(doc, "Remediation: new") {
		t.Errorf("expected remediation status new in entry:\n%s", doc)
	}
}

func TestRenderDaysActive(t *testing.T) {
	f := finding("CVE-2025-0001", SeverityHigh)
	f.DiscoveredAt = testNow.AddDate(0, 0, -28)
	snap := ScanSnapshot{Timestamp: testNow, Findings: []Finding{f}}

	artifacts, err := Render(snap, registryFor(snap), testNow)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(artifacts.FindingsDoc), "28 days active") {
		t.Errorf("expected days-active from the injected clock:\n%s", artifacts.FindingsDoc)
	}
}

func TestRenderLastUpdatedComesFromSnapshot(t *testing.T) {
	snap := ScanSnapshot{Timestamp: time.Date(2026, 8, 1, 6, 30, 0, 0, time.UTC)}
	artifacts, err := Render(snap, NewRegistry(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	doc := string(artifacts.FindingsDoc)
	if !strings.Contains(doc, "Last Updated: 2026-08-01T06:30:00Z") {
		t.Errorf("Last Updated must come from the snapshot, not the clock:\n%s", doc)
	}
	if !strings.Contains(doc, "_No active findings._") {
		t.Errorf("empty snapshot renders the empty marker:\n%s", doc)
	}
}
