package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing config file must not fail: %v", err)
	}
	if cfg.Remote != "origin" || cfg.Branch != "main" {
		t.Errorf("defaults wrong: remote=%q branch=%q", cfg.Remote, cfg.Branch)
	}
	if cfg.LockTTL != 15*time.Minute {
		t.Errorf("lock ttl = %s", cfg.LockTTL)
	}
	if cfg.PushRetries != 5 {
		t.Errorf("push retries = %d", cfg.PushRetries)
	}
}

func TestLoadReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secsync.yaml")
	content := `
repo_path: /srv/app
remote: upstream
branch: develop
lock_ttl: 5m
scanners:
  pip-audit: reports/pip.json
  gitleaks: reports/leaks.json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.RepoPath != "/srv/app" || cfg.Remote != "upstream" || cfg.Branch != "develop" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.LockTTL != 5*time.Minute {
		t.Errorf("lock ttl = %s", cfg.LockTTL)
	}
	if cfg.Scanners["pip-audit"] != "reports/pip.json" || cfg.Scanners["gitleaks"] != "reports/leaks.json" {
		t.Errorf("scanners = %v", cfg.Scanners)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secsync.yaml")
	if err := os.WriteFile(path, []byte("branch: develop\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SECSYNC_BRANCH", "release")
	t.Setenv("SECSYNC_LOCK_TTL", "30m")
	t.Setenv("SECSYNC_SCANNER_PIP_AUDIT", "out/pip.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Branch != "release" {
		t.Errorf("environment must win over file: branch = %q", cfg.Branch)
	}
	if cfg.LockTTL != 30*time.Minute {
		t.Errorf("lock ttl = %s", cfg.LockTTL)
	}
	if cfg.Scanners["pip-audit"] != "out/pip.json" {
		t.Errorf("SECSYNC_SCANNER_PIP_AUDIT must map to pip-audit: %v", cfg.Scanners)
	}
}

func TestLoadRejectsUnknownScanner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secsync.yaml")
	if err := os.WriteFile(path, []byte("scanners:\n  trivy: out.json\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("unknown scanner format must be rejected")
	}
	if !strings.Contains(err.Error(), "trivy") {
		t.Errorf("error should name the offending scanner: %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("SECSYNC_LOCK_TTL", "soon")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("unparseable SECSYNC_LOCK_TTL must be rejected")
	}
}

func TestValidateRejectsNonPositiveTTL(t *testing.T) {
	cfg := defaults()
	cfg.LockTTL = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero lock_ttl must be rejected")
	}
}

func TestReadScannerOutputsReportsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "pip.json")
	if err := os.WriteFile(good, []byte(`{"dependencies": []}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := defaults()
	cfg.Scanners = map[string]string{
		"pip-audit": good,
		"bandit":    filepath.Join(dir, "missing.json"),
	}

	raw, errs := cfg.ReadScannerOutputs()
	if len(raw) != 1 {
		t.Errorf("expected one readable output, got %d", len(raw))
	}
	if _, ok := raw["pip-audit"]; !ok {
		t.Error("readable scanner output must be returned")
	}
	if len(errs) != 1 || errs[0].Scanner != "bandit" {
		t.Errorf("missing file must be reported per scanner: %v", errs)
	}
}
