package engine

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/secsync/pkg/support"
)

// Status is the remediation workflow state for one finding.
type Status string

const (
	StatusNew              Status = "new"
	StatusInProgress       Status = "in_progress"
	StatusAwaitingUpstream Status = "awaiting_upstream"
	StatusCompleted        Status = "completed"
	StatusAcceptedRisk     Status = "accepted_risk"
	StatusFalsePositive    Status = "false_positive"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAcceptedRisk, StatusFalsePositive:
		return true
	}
	return false
}

// CanTransition reports whether a human may move an entry from s to to.
// The main track is new -> in_progress -> awaiting_upstream -> completed;
// accepted_risk and false_positive are reachable from any non-terminal state.
// Automation never calls this: it only ever creates entries as "new" or
// removes them on resolution.
func (s Status) CanTransition(to Status) bool {
	if s.Terminal() {
		return false
	}
	switch to {
	case StatusAcceptedRisk, StatusFalsePositive:
		return true
	case StatusInProgress:
		return s == StatusNew
	case StatusAwaitingUpstream:
		return s == StatusInProgress
	case StatusCompleted:
		return s == StatusAwaitingUpstream || s == StatusInProgress
	}
	return false
}

// ParseStatus validates a status string read from the registry file.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusNew, StatusInProgress, StatusAwaitingUpstream,
		StatusCompleted, StatusAcceptedRisk, StatusFalsePositive:
		return Status(s), nil
	}
	return "", fmt.Errorf("invalid remediation status: %q", s)
}

// RemediationEntry is the human-owned response plan for one active finding.
// Every field except Severity (a mirror of the finding) and CreatedAt is
// owned by humans and is never overwritten by automation once set.
type RemediationEntry struct {
	Status         Status   `yaml:"status" json:"status"`
	Severity       Severity `yaml:"severity" json:"severity"`
	PlannedAction  string   `yaml:"planned_action" json:"planned_action,omitempty"`
	TargetDate     string   `yaml:"target_date" json:"target_date,omitempty"`
	AssignedTo     string   `yaml:"assigned_to" json:"assigned_to,omitempty"`
	Notes          string   `yaml:"notes" json:"notes,omitempty"`
	Workaround     string   `yaml:"workaround" json:"workaround,omitempty"`
	Priority       string   `yaml:"priority" json:"priority,omitempty"`
	BusinessImpact string   `yaml:"business_impact" json:"business_impact,omitempty"`
	CreatedAt      string   `yaml:"created_at" json:"created_at,omitempty"`
}

// Registry maps active finding ids to their remediation entries.
type Registry struct {
	Findings map[string]*RemediationEntry `yaml:"findings"`
}

// DefaultRegistryPath is the registry artifact, relative to the repository root.
const DefaultRegistryPath = "remediation.yaml"

// NewRegistry returns an empty registry ready for inserts.
func NewRegistry() *Registry {
	return &Registry{Findings: make(map[string]*RemediationEntry)}
}

// IDs returns the registry keys in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.Findings))
	for id := range r.Findings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EntryDefault is the per-severity template applied to entries created by
// automation. Humans take it from there.
type EntryDefault struct {
	Priority  string `yaml:"priority"`
	DueInDays int    `yaml:"due_in_days"`
}

// Defaults maps severity to the template used for new entries.
type Defaults map[Severity]EntryDefault

// DefaultEntryDefaults is used when the config file does not override them.
func DefaultEntryDefaults() Defaults {
	return Defaults{
		SeverityCritical: {Priority: "P1", DueInDays: 7},
		SeverityHigh:     {Priority: "P2", DueInDays: 30},
		SeverityMedium:   {Priority: "P3", DueInDays: 90},
		SeverityLow:      {Priority: "P4", DueInDays: 180},
		SeverityInfo:     {Priority: "P4", DueInDays: 365},
	}
}

// NewEntry builds the default entry automation inserts for a new finding.
func NewEntry(f Finding, defaults Defaults, now time.Time) *RemediationEntry {
	d := defaults[f.Severity]
	e := &RemediationEntry{
		Status:    StatusNew,
		Severity:  f.Severity,
		Priority:  d.Priority,
		CreatedAt: now.UTC().Format("2006-01-02"),
	}
	if d.DueInDays > 0 {
		e.TargetDate = now.UTC().AddDate(0, 0, d.DueInDays).Format("2006-01-02")
	}
	return e
}

// LoadRegistry reads the registry file, validating status and severity at the
// boundary so malformed values never travel deeper into the pipeline. A
// missing file yields an empty registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewRegistry(), nil
	}
	if err != nil {
		return nil, err
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	if reg.Findings == nil {
		reg.Findings = make(map[string]*RemediationEntry)
	}
	for id, e := range reg.Findings {
		if _, err := ParseStatus(string(e.Status)); err != nil {
			return nil, fmt.Errorf("registry entry %s: %w", id, err)
		}
		if _, err := ParseSeverity(string(e.Severity)); err != nil {
			return nil, fmt.Errorf("registry entry %s: %w", id, err)
		}
	}
	return &reg, nil
}

// Encode serializes the registry with entries in sorted id order. yaml.v3
// does not guarantee map key order, so the mapping node is built by hand;
// identical registries must always serialize to identical bytes.
func (r *Registry) Encode() ([]byte, error) {
	entries := &yaml.Node{Kind: yaml.MappingNode}
	for _, id := range r.IDs() {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: id}
		val := &yaml.Node{}
		if err := val.Encode(r.Findings[id]); err != nil {
			return nil, err
		}
		entries.Content = append(entries.Content, key, val)
	}
	doc := struct {
		Findings *yaml.Node `yaml:"findings"`
	}{Findings: entries}
	return yaml.Marshal(doc)
}

// Save writes the registry atomically.
func (r *Registry) Save(path string) error {
	data, err := r.Encode()
	if err != nil {
		return err
	}
	return support.WriteFileAtomic(path, data)
}

// Clone deep-copies the registry so the synchronizer can mutate freely.
func (r *Registry) Clone() *Registry {
	out := NewRegistry()
	for id, e := range r.Findings {
		copied := *e
		out.Findings[id] = &copied
	}
	return out
}
