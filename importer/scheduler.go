package importer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/robfig/cron/v3"

	"github.com/kennangle/mbodataanalysis/config"
)

// Scheduler runs recurring imports from per-organization cron schedules
// stored in the scheduled_imports collection. The collection is the source
// of truth: a resync pass reconciles cron entries against it periodically,
// so schedule edits take effect without a restart.
type Scheduler struct {
	app      core.App
	store    JobStore
	worker   *Worker
	settings *config.Settings
	cron     *cron.Cron
	stop     chan struct{}

	mu      sync.Mutex
	entries map[string]scheduleEntry
}

type scheduleEntry struct {
	id   cron.EntryID
	expr string
}

func NewScheduler(app core.App, store JobStore, worker *Worker, settings *config.Settings) *Scheduler {
	return &Scheduler{
		app:      app,
		store:    store,
		worker:   worker,
		settings: settings,
		cron:     cron.New(),
		stop:     make(chan struct{}),
		entries:  make(map[string]scheduleEntry),
	}
}

// ValidateCron reports whether expr is a valid five-field cron expression.
func ValidateCron(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

func (s *Scheduler) Start() {
	s.resync()
	s.cron.Start()

	go func() {
		ticker := time.NewTicker(s.settings.ScheduleResyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.resync()
			case <-s.stop:
				return
			}
		}
	}()

	slog.Info("Import scheduler started", "resyncInterval", s.settings.ScheduleResyncInterval)
}

func (s *Scheduler) Stop() {
	close(s.stop)
	s.cron.Stop()
}

// resync reconciles cron entries with the scheduled_imports collection:
// new enabled schedules are added, changed expressions replaced, and
// disabled or deleted schedules removed.
func (s *Scheduler) resync() {
	records, err := s.app.FindRecordsByFilter("scheduled_imports", "enabled = true", "", 0, 0)
	if err != nil {
		slog.Error("Loading scheduled imports", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(records))
	for _, record := range records {
		scheduleID := record.Id
		expr := record.GetString("cron_expression")
		seen[scheduleID] = true

		if entry, ok := s.entries[scheduleID]; ok {
			if entry.expr == expr {
				continue
			}
			s.cron.Remove(entry.id)
			delete(s.entries, scheduleID)
		}

		id := scheduleID
		entryID, err := s.cron.AddFunc(expr, func() { s.trigger(id, false) })
		if err != nil {
			slog.Error("Invalid cron expression in schedule", "scheduleId", scheduleID, "expr", expr, "error", err)
			continue
		}
		s.entries[scheduleID] = scheduleEntry{id: entryID, expr: expr}
		slog.Info("Registered import schedule", "scheduleId", scheduleID, "expr", expr)
	}

	for scheduleID, entry := range s.entries {
		if !seen[scheduleID] {
			s.cron.Remove(entry.id)
			delete(s.entries, scheduleID)
			slog.Info("Removed import schedule", "scheduleId", scheduleID)
		}
	}
}

// TriggerNow fires a schedule immediately, bypassing the minimum-interval
// guard that protects automatic runs.
func (s *Scheduler) TriggerNow(scheduleID string) {
	s.trigger(scheduleID, true)
}

func (s *Scheduler) trigger(scheduleID string, manual bool) {
	record, err := s.app.FindRecordById("scheduled_imports", scheduleID)
	if err != nil {
		slog.Error("Loading schedule for trigger", "scheduleId", scheduleID, "error", err)
		return
	}
	orgID := record.GetString("organization")

	// A schedule never stacks jobs behind one another.
	if active, err := s.store.FindActive(orgID); err != nil {
		slog.Error("Checking for active job", "org", orgID, "error", err)
		return
	} else if active != nil {
		slog.Info("Skipping scheduled import, job already active", "org", orgID, "activeJob", active.ID)
		s.audit(record, "skipped", "a job is already active for this organization")
		return
	}

	if !manual {
		lastRun := record.GetDateTime("last_run_at").Time()
		if !lastRun.IsZero() && time.Since(lastRun) < s.settings.ScheduleMinInterval {
			slog.Info("Skipping scheduled import, ran too recently", "org", orgID, "lastRun", lastRun)
			s.audit(record, "skipped", "previous run was too recent")
			return
		}
	}

	lookbackDays := record.GetInt("lookback_days")
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	now := time.Now().UTC()

	var dataTypes []string
	if err := record.UnmarshalJSONField("data_types", &dataTypes); err != nil || len(dataTypes) == 0 {
		dataTypes = DataTypeOrder
	}

	job := &Job{
		OrganizationID: orgID,
		Status:         StatusPending,
		DataTypes:      OrderedDataTypes(dataTypes),
		StartDate:      now.AddDate(0, 0, -lookbackDays),
		EndDate:        now,
		Progress:       NewProgress(),
	}
	if err := s.store.Create(job); err != nil {
		slog.Error("Creating scheduled import job", "org", orgID, "error", err)
		s.audit(record, "failed", fmt.Sprintf("creating job: %v", err))
		return
	}

	record.Set("last_run_at", storedTime(now))
	record.Set("last_run_status", "")
	record.Set("last_run_error", "")
	if err := s.app.Save(record); err != nil {
		slog.Error("Recording schedule run", "scheduleId", scheduleID, "error", err)
	}

	slog.Info("Triggering scheduled import", "org", orgID, "jobId", job.ID, "dataTypes", job.DataTypes)
	s.worker.Enqueue(job.ID)

	go s.pollCompletion(scheduleID, job.ID)
}

// pollCompletion watches a scheduled job until it reaches a terminal state
// and writes the outcome back to the schedule's audit fields. The poll has a
// ceiling: past it the audit records a timeout, but the job itself is left
// alone since the worker may legitimately still be grinding through a large
// site.
func (s *Scheduler) pollCompletion(scheduleID, jobID string) {
	deadline := time.Now().Add(s.settings.SchedulePollTimeout)
	ticker := time.NewTicker(s.settings.SchedulePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			job, err := s.store.Get(jobID)
			if err != nil {
				slog.Error("Polling scheduled job", "jobId", jobID, "error", err)
				return
			}
			if IsTerminal(job.Status) {
				s.auditByID(scheduleID, auditStatus(job.Status), job.Error)
				return
			}
			if time.Now().After(deadline) {
				s.auditByID(scheduleID, "failed", "timed out waiting for job completion")
				return
			}
		case <-s.stop:
			return
		}
	}
}

func auditStatus(jobStatus string) string {
	if jobStatus == StatusCompleted {
		return "completed"
	}
	return "failed"
}

func (s *Scheduler) auditByID(scheduleID, status, message string) {
	record, err := s.app.FindRecordById("scheduled_imports", scheduleID)
	if err != nil {
		slog.Error("Loading schedule for audit", "scheduleId", scheduleID, "error", err)
		return
	}
	s.audit(record, status, message)
}

func (s *Scheduler) audit(record *core.Record, status, message string) {
	record.Set("last_run_status", status)
	record.Set("last_run_error", message)
	if err := s.app.Save(record); err != nil {
		slog.Error("Saving schedule audit", "scheduleId", record.Id, "error", err)
	}
}
