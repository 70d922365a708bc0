package pipaudit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/secsync/pkg/engine"
)

var now = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func TestParsePipAuditOutput(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "pip_audit_output.json"))
	if err != nil {
		t.Fatal(err)
	}

	findings, err := Parse(data, now)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(findings))
	}

	f1 := findings[0]
	if f1.ID != "CVE-2025-0001" {
		t.Errorf("expected CVE-2025-0001, got %s", f1.ID)
	}
	if f1.Severity != engine.SeverityHigh {
		t.Errorf("expected high, got %s", f1.Severity)
	}
	if f1.Package != "requests" || f1.Version != "2.31.0" {
		t.Errorf("package/version wrong: %s %s", f1.Package, f1.Version)
	}
	if f1.ReferenceURL != "https://github.com/advisories/GHSA-9wx4-h78v-vm56" {
		t.Errorf("expected GHSA advisory URL, got %s", f1.ReferenceURL)
	}

	f2 := findings[1]
	if f2.ID != "PYSEC-2025-0042" {
		t.Errorf("expected PYSEC-2025-0042, got %s", f2.ID)
	}
	if f2.Severity != engine.SeverityMedium {
		t.Errorf("missing severity must default to medium, got %s", f2.Severity)
	}
	if f2.ReferenceURL != "https://osv.dev/vulnerability/PYSEC-2025-0042" {
		t.Errorf("expected osv.dev fallback URL, got %s", f2.ReferenceURL)
	}
	if f2.Description != "fixed in 3.1.4" {
		t.Errorf("expected fix-version fallback description, got %q", f2.Description)
	}
}

func TestParsePipAuditMalformed(t *testing.T) {
	if _, err := Parse([]byte("not json"), now); err == nil {
		t.Error("expected error for malformed input")
	}
	if _, err := Parse([]byte(`{"dependencies":[{"name":"x","vulns":[{"description":"no id"}]}]}`), now); err == nil {
		t.Error("expected error for vuln without id")
	}
}
