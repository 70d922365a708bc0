package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/secsync/pkg/logging"
)

// ErrLockBusy means another run holds the workflow lock. Not a failure:
// callers skip cleanly.
var ErrLockBusy = errors.New("another run holds the workflow lock")

// DefaultLockPath is the lock file, relative to the repository root. CI-level
// concurrency groups are the first line of defense; this lease is the second,
// and its TTL is what un-wedges the system after a crashed run.
const DefaultLockPath = ".secsync/lock"

// Lock is the coordination token for one automation run.
type Lock struct {
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`

	path string
	now  func() time.Time
}

// Acquire makes a single attempt at taking the lock. An existing lock that
// has expired is removed (a crashed run must not wedge the system) and the
// attempt retried once.
func Acquire(path, holderID string, ttl time.Duration, now func() time.Time) (*Lock, error) {
	if now == nil {
		now = time.Now
	}
	for attempt := 0; attempt < 2; attempt++ {
		lock, err := tryCreate(path, holderID, ttl, now)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockBusy) {
			return nil, err
		}
		stale, staleErr := removeIfExpired(path, now())
		if staleErr != nil {
			return nil, staleErr
		}
		if !stale {
			return nil, ErrLockBusy
		}
		logging.Warnf("removed expired lock at %s", path)
	}
	return nil, ErrLockBusy
}

// AcquireWait retries acquisition on an exponential backoff schedule for at
// most maxWait before giving up with ErrLockBusy. sleep is injectable for
// tests.
func AcquireWait(path, holderID string, ttl, maxWait time.Duration, now func() time.Time, sleep func(time.Duration)) (*Lock, error) {
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = time.Sleep
	}

	deadline := now().Add(maxWait)
	backoff := 500 * time.Millisecond
	for {
		lock, err := Acquire(path, holderID, ttl, now)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockBusy) {
			return nil, err
		}
		if now().Add(backoff).After(deadline) {
			return nil, ErrLockBusy
		}
		logging.Debugf("lock busy, retrying in %s", backoff)
		sleep(backoff)
		backoff *= 2
	}
}

// Release removes the lock file if this run still owns it. Safe to call on
// every exit path; a lock taken over after expiry is left alone.
func (l *Lock) Release() error {
	current, err := read(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if current.HolderID != l.HolderID {
		logging.Warnf("lock at %s now held by %s, not releasing", l.path, current.HolderID)
		return nil
	}
	return os.Remove(l.path)
}

// Expired reports whether the lease has run out.
func (l *Lock) Expired() bool {
	return l.now().After(l.ExpiresAt)
}

func tryCreate(path, holderID string, ttl time.Duration, now func() time.Time) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLockBusy
		}
		return nil, err
	}

	lock := &Lock{
		HolderID:   holderID,
		AcquiredAt: now().UTC(),
		ExpiresAt:  now().UTC().Add(ttl),
		path:       path,
		now:        now,
	}
	data, err := json.Marshal(lock)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}
	return lock, nil
}

func read(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("corrupt lock file %s: %w", path, err)
	}
	lock.path = path
	return &lock, nil
}

func removeIfExpired(path string, now time.Time) (bool, error) {
	lock, err := read(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Holder released between our attempt and this check.
			return true, nil
		}
		return false, err
	}
	if now.Before(lock.ExpiresAt) {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return true, nil
}
