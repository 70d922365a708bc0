package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), ".secsync", "lock")
}

func TestAcquireAndRelease(t *testing.T) {
	path := lockPath(t)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	lock, err := Acquire(path, "runner-a", 15*time.Minute, func() time.Time { return now })
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if lock.HolderID != "runner-a" {
		t.Errorf("holder = %q", lock.HolderID)
	}
	if !lock.ExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("expiry = %s", lock.ExpiresAt)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lock file must be gone after release")
	}
}

func TestAcquireBusyWhileHeld(t *testing.T) {
	path := lockPath(t)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	if _, err := Acquire(path, "runner-a", 15*time.Minute, clock); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	_, err := Acquire(path, "runner-b", 15*time.Minute, clock)
	if !errors.Is(err, ErrLockBusy) {
		t.Fatalf("expected ErrLockBusy, got %v", err)
	}
}

func TestAcquireTakesOverExpiredLock(t *testing.T) {
	path := lockPath(t)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	if _, err := Acquire(path, "crashed-run", 15*time.Minute, func() time.Time { return now }); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	later := now.Add(16 * time.Minute)
	lock, err := Acquire(path, "runner-b", 15*time.Minute, func() time.Time { return later })
	if err != nil {
		t.Fatalf("takeover of expired lock failed: %v", err)
	}
	if lock.HolderID != "runner-b" {
		t.Errorf("holder = %q", lock.HolderID)
	}
}

func TestReleaseLeavesTakenOverLockAlone(t *testing.T) {
	path := lockPath(t)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	stale, err := Acquire(path, "crashed-run", 15*time.Minute, func() time.Time { return now })
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	later := now.Add(16 * time.Minute)
	if _, err := Acquire(path, "runner-b", 15*time.Minute, func() time.Time { return later }); err != nil {
		t.Fatalf("takeover failed: %v", err)
	}

	// The crashed run's deferred release fires after the takeover: it must
	// not remove the new holder's lock.
	if err := stale.Release(); err != nil {
		t.Fatalf("stale release errored: %v", err)
	}
	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("lock file missing after stale release: %v", err)
	}
	if want := `"holder_id":"runner-b"`; !strings.Contains(string(current), want) {
		t.Errorf("lock content %s does not name runner-b", current)
	}
}

func TestAcquireWaitRetriesUntilFree(t *testing.T) {
	path := lockPath(t)
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	holder, err := Acquire(path, "runner-a", 15*time.Minute, clock)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	var slept []time.Duration
	sleep := func(d time.Duration) {
		slept = append(slept, d)
		current = current.Add(d)
		if len(slept) == 2 {
			if err := holder.Release(); err != nil {
				t.Fatalf("release failed: %v", err)
			}
		}
	}

	lock, err := AcquireWait(path, "runner-b", 15*time.Minute, 2*time.Minute, clock, sleep)
	if err != nil {
		t.Fatalf("AcquireWait failed: %v", err)
	}
	if lock.HolderID != "runner-b" {
		t.Errorf("holder = %q", lock.HolderID)
	}
	if len(slept) != 2 {
		t.Fatalf("expected 2 sleeps, got %v", slept)
	}
	if slept[0] != 500*time.Millisecond || slept[1] != time.Second {
		t.Errorf("backoff schedule wrong: %v", slept)
	}
}

func TestAcquireWaitGivesUpAtDeadline(t *testing.T) {
	path := lockPath(t)
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	if _, err := Acquire(path, "runner-a", time.Hour, clock); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	sleep := func(d time.Duration) { current = current.Add(d) }
	_, err := AcquireWait(path, "runner-b", time.Hour, 3*time.Second, clock, sleep)
	if !errors.Is(err, ErrLockBusy) {
		t.Fatalf("expected ErrLockBusy at deadline, got %v", err)
	}
}

func TestExpired(t *testing.T) {
	path := lockPath(t)
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	lock, err := Acquire(path, "runner-a", 15*time.Minute, clock)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if lock.Expired() {
		t.Error("fresh lock must not be expired")
	}
	current = base.Add(16 * time.Minute)
	if !lock.Expired() {
		t.Error("lock past its TTL must report expired")
	}
}
