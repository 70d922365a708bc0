package gitops

import (
	"regexp"
	"strings"
	"time"
)

// ConflictType classifies a rebase conflict.
type ConflictType string

const (
	ConflictTimestampOnly ConflictType = "timestampOnly"
	ConflictContent       ConflictType = "content"
)

// Resolution records how a conflict was handled.
type Resolution string

const (
	ResolutionAuto   Resolution = "autoResolved"
	ResolutionManual Resolution = "manualRequired"
)

// ConflictRecord is the audit trail entry for one conflicted file.
type ConflictRecord struct {
	FilePath      string       `json:"file_path"`
	Type          ConflictType `json:"conflict_type"`
	Resolution    Resolution   `json:"resolution"`
	ResolvedValue string       `json:"resolved_value,omitempty"`
}

// timestampPattern matches ISO-8601 dates with optional time and zone. This
// is the whole grammar: a conflict qualifies as timestamp-only iff masking
// every such token leaves both sides byte-identical and every token parses.
// Anything ambiguous classifies as content.
var timestampPattern = regexp.MustCompile(
	`\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)?`)

var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Classify decides whether the two sides of a conflicted file differ only in
// recognized timestamp fields.
func Classify(ours, theirs string) ConflictType {
	oursMasked, oursStamps, ok := maskTimestamps(ours)
	if !ok {
		return ConflictContent
	}
	theirsMasked, theirsStamps, ok := maskTimestamps(theirs)
	if !ok {
		return ConflictContent
	}
	if oursMasked != theirsMasked || len(oursStamps) != len(theirsStamps) {
		return ConflictContent
	}
	return ConflictTimestampOnly
}

// Resolve picks the winning side of a timestamp-only conflict: the one
// holding the chronologically later value at the first timestamp slot where
// the sides differ. Returns false when the conflict is not timestamp-only.
func Resolve(ours, theirs string) (string, bool) {
	if Classify(ours, theirs) != ConflictTimestampOnly {
		return "", false
	}
	_, oursStamps, _ := maskTimestamps(ours)
	_, theirsStamps, _ := maskTimestamps(theirs)

	for i := range oursStamps {
		if oursStamps[i].Equal(theirsStamps[i]) {
			continue
		}
		if theirsStamps[i].After(oursStamps[i]) {
			return theirs, true
		}
		return ours, true
	}
	// Every slot equal means the sides were identical to begin with.
	return ours, true
}

// maskTimestamps replaces every timestamp token with a placeholder and
// returns the parsed values in document order. ok is false when a token
// cannot be parsed, which classifies the whole file as a content conflict.
func maskTimestamps(s string) (masked string, stamps []time.Time, ok bool) {
	matches := timestampPattern.FindAllStringIndex(s, -1)
	var sb strings.Builder
	prev := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		// A token embedded in a longer digit run is not a timestamp.
		if start > 0 && isDigit(s[start-1]) {
			continue
		}
		if end < len(s) && isDigit(s[end]) {
			continue
		}
		ts, err := parseTimestamp(s[start:end])
		if err != nil {
			return "", nil, false
		}
		sb.WriteString(s[prev:start])
		sb.WriteString("\x00ts\x00")
		stamps = append(stamps, ts)
		prev = end
	}
	sb.WriteString(s[prev:])
	return sb.String(), stamps, true
}

func parseTimestamp(token string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, token)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
