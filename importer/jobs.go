// Package importer implements the resumable Mindbody import pipeline:
// job records, the single-worker queue, per-data-type batch importers, the
// cron scheduler, and startup recovery.
package importer

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Data types, in their fixed execution order. Visits and sales join against
// locally imported students and schedules, so clients and classes must run
// first.
const (
	DataTypeClients = "clients"
	DataTypeClasses = "classes"
	DataTypeVisits  = "visits"
	DataTypeSales   = "sales"
)

// DataTypeOrder is the fixed phase order for every job.
var DataTypeOrder = []string{DataTypeClients, DataTypeClasses, DataTypeVisits, DataTypeSales}

// IsTerminal reports whether a job status is terminal.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// ValidDataType reports whether name is an importable data type.
func ValidDataType(name string) bool {
	for _, dt := range DataTypeOrder {
		if dt == name {
			return true
		}
	}
	return false
}

// OrderedDataTypes filters DataTypeOrder down to the requested set,
// preserving the fixed execution order regardless of request order.
func OrderedDataTypes(requested []string) []string {
	want := make(map[string]bool, len(requested))
	for _, dt := range requested {
		want[dt] = true
	}

	var ordered []string
	for _, dt := range DataTypeOrder {
		if want[dt] {
			ordered = append(ordered, dt)
		}
	}
	return ordered
}

// PhaseProgress is the durable per-data-type progress shape.
type PhaseProgress struct {
	Current   int    `json:"current"`
	Total     int    `json:"total,omitempty"`
	Imported  int    `json:"imported"`
	Updated   int    `json:"updated,omitempty"`
	Completed bool   `json:"completed"`
	Source    string `json:"source,omitempty"`
}

// Progress is the job's per-data-type progress blob. It round-trips through
// JSON preserving keys it does not recognize, so older records survive
// schema growth and newer writers' keys are not stripped by this one.
type Progress struct {
	phases map[string]PhaseProgress
	extra  map[string]json.RawMessage
}

// NewProgress returns an empty progress blob.
func NewProgress() *Progress {
	return &Progress{
		phases: make(map[string]PhaseProgress),
		extra:  make(map[string]json.RawMessage),
	}
}

// Get returns the progress of one data type (zero value when absent).
func (p *Progress) Get(dataType string) PhaseProgress {
	return p.phases[dataType]
}

// Set replaces the progress of one data type.
func (p *Progress) Set(dataType string, pp PhaseProgress) {
	p.phases[dataType] = pp
}

// Completed reports whether a data type's phase has finished.
func (p *Progress) Completed(dataType string) bool {
	return p.phases[dataType].Completed
}

// MarshalJSON writes known phases and preserved unknown keys as one object.
func (p *Progress) MarshalJSON() ([]byte, error) {
	merged := make(map[string]json.RawMessage, len(p.phases)+len(p.extra))
	for key, raw := range p.extra {
		merged[key] = raw
	}
	for name, pp := range p.phases {
		raw, err := json.Marshal(pp)
		if err != nil {
			return nil, err
		}
		merged[name] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON reads known data-type keys into typed phase progress and
// stashes everything else verbatim.
func (p *Progress) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode progress: %w", err)
	}

	p.phases = make(map[string]PhaseProgress)
	p.extra = make(map[string]json.RawMessage)

	for key, value := range raw {
		if ValidDataType(key) {
			var pp PhaseProgress
			if err := json.Unmarshal(value, &pp); err != nil {
				return fmt.Errorf("decode %s progress: %w", key, err)
			}
			p.phases[key] = pp
			continue
		}
		p.extra[key] = value
	}
	return nil
}

// Job is one synchronization attempt for one organization.
type Job struct {
	ID              string
	OrganizationID  string
	Status          string
	DataTypes       []string
	StartDate       time.Time
	EndDate         time.Time
	Progress        *Progress
	CurrentDataType string
	CurrentOffset   int
	Error           string
	PausedAt        *time.Time
	Created         time.Time
	Updated         time.Time
}

// JobStore is the durable home of job records. The PocketBase-backed
// implementation is the production one; the worker and scheduler only see
// this interface so their invariants are testable without a database.
type JobStore interface {
	// Get returns the job by id.
	Get(id string) (*Job, error)

	// Create persists a new job and fills in its id.
	Create(job *Job) error

	// Save persists the job's mutable state (status, progress, cursor,
	// error). Safe as a plain read-modify-write only because a single
	// worker owns at most one job at a time.
	Save(job *Job) error

	// FindActive returns the organization's pending or running job, or nil.
	FindActive(organizationID string) (*Job, error)

	// FindRunning returns every job currently marked running (used by
	// startup recovery to detect orphans).
	FindRunning() ([]*Job, error)
}
