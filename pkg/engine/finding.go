package engine

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/user/secsync/pkg/support"
)

// Finding represents a normalized security finding from any scanner.
type Finding struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Package      string    `json:"package,omitempty"`
	Version      string    `json:"version,omitempty"`
	Severity     Severity  `json:"severity"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Description  string    `json:"description,omitempty"`
	ReferenceURL string    `json:"reference_url,omitempty"`

	// MissedRuns counts consecutive scans the finding was absent from.
	// A finding leaves the active set once it reaches MissedRunLimit.
	MissedRuns int `json:"missed_runs,omitempty"`
}

// MissedRunLimit is the number of consecutive absent scans after which a
// finding is considered resolved. One missed scan is tolerated so that a
// flaky scanner run does not close findings prematurely.
const MissedRunLimit = 2

// ScanSnapshot is the normalized output of one ingestion cycle.
type ScanSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Findings  []Finding `json:"findings"`
}

// DefaultSnapshotPath is where the last committed snapshot lives, relative to
// the repository root.
const DefaultSnapshotPath = ".secsync/snapshot.json"

// ByID indexes the snapshot's findings by their stable identifier.
func (s *ScanSnapshot) ByID() map[string]Finding {
	m := make(map[string]Finding, len(s.Findings))
	for _, f := range s.Findings {
		m[f.ID] = f
	}
	return m
}

// Sorted returns the findings ordered severity descending, then discovery
// time ascending, then id. This is the canonical rendering order.
func (s *ScanSnapshot) Sorted() []Finding {
	out := make([]Finding, len(s.Findings))
	copy(out, s.Findings)
	sort.Slice(out, func(i, j int) bool {
		fi, fj := out[i], out[j]
		if fi.Severity.Rank() != fj.Severity.Rank() {
			return fi.Severity.Rank() > fj.Severity.Rank()
		}
		if !fi.DiscoveredAt.Equal(fj.DiscoveredAt) {
			return fi.DiscoveredAt.Before(fj.DiscoveredAt)
		}
		return fi.ID < fj.ID
	})
	return out
}

// LoadSnapshot reads a previously persisted snapshot. A missing file is not
// an error: the first ever run starts from an empty snapshot.
func LoadSnapshot(path string) (ScanSnapshot, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ScanSnapshot{}, nil
	}
	if err != nil {
		return ScanSnapshot{}, err
	}
	var snap ScanSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ScanSnapshot{}, err
	}
	return snap, nil
}

// Save persists the snapshot atomically with findings in canonical order so
// that identical states serialize to identical bytes.
func (s *ScanSnapshot) Save(path string) error {
	canonical := ScanSnapshot{Timestamp: s.Timestamp.UTC(), Findings: s.Sorted()}
	return support.WriteJSONAtomic(path, canonical)
}
