// Package scanners normalizes heterogeneous scanner JSON into a canonical
// finding set. Unknown scanner names are rejected at configuration time, not
// here; one malformed output never blanks out the findings of the rest.
package scanners

import (
	"fmt"
	"sort"
	"time"

	"github.com/user/secsync/pkg/engine"
	"github.com/user/secsync/pkg/scanners/bandit"
	"github.com/user/secsync/pkg/scanners/gitleaks"
	"github.com/user/secsync/pkg/scanners/pipaudit"
)

// ParseFunc converts one scanner's raw output into normalized findings.
type ParseFunc func(data []byte, now time.Time) ([]engine.Finding, error)

var formats = map[string]ParseFunc{
	"pip-audit": pipaudit.Parse,
	"bandit":    bandit.Parse,
	"gitleaks":  gitleaks.Parse,
}

// Known reports whether a scanner format is supported. Config validation
// calls this so misconfigured names fail before any run starts.
func Known(name string) bool {
	_, ok := formats[name]
	return ok
}

// Names lists the supported scanner formats, sorted.
func Names() []string {
	names := make([]string, 0, len(formats))
	for n := range formats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseError records one scanner whose output could not be read. The run
// continues without that scanner's findings.
type ParseError struct {
	Scanner string
	Err     error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("scanner %s: %v", e.Scanner, e.Err)
}

func (e ParseError) Unwrap() error { return e.Err }

// Parse builds a snapshot from the raw outputs of all configured scanners.
// Scanners are processed in sorted name order so deduplication is
// deterministic. Findings reported by multiple scanners under the same id are
// merged preferring the highest severity.
func Parse(raw map[string][]byte, now time.Time) (engine.ScanSnapshot, []ParseError) {
	names := make([]string, 0, len(raw))
	for n := range raw {
		names = append(names, n)
	}
	sort.Strings(names)

	var errs []ParseError
	byID := make(map[string]engine.Finding)
	var order []string

	for _, name := range names {
		parse, ok := formats[name]
		if !ok {
			// Config validation should have caught this; treat it as a
			// per-scanner failure rather than trusting unknown bytes.
			errs = append(errs, ParseError{Scanner: name, Err: fmt.Errorf("unknown scanner format")})
			continue
		}
		findings, err := parse(raw[name], now)
		if err != nil {
			errs = append(errs, ParseError{Scanner: name, Err: err})
			continue
		}
		for _, f := range findings {
			existing, seen := byID[f.ID]
			if !seen {
				byID[f.ID] = f
				order = append(order, f.ID)
				continue
			}
			if f.Severity.Rank() > existing.Severity.Rank() {
				byID[f.ID] = f
			}
		}
	}

	snap := engine.ScanSnapshot{Timestamp: now.UTC()}
	for _, id := range order {
		snap.Findings = append(snap.Findings, byID[id])
	}
	return snap, errs
}
