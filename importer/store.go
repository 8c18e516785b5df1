package importer

import (
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// jobsCollection is the PocketBase collection backing JobStore.
const jobsCollection = "import_jobs"

// NewJobStore returns the PocketBase-backed JobStore.
func NewJobStore(app core.App) JobStore {
	return &pbJobStore{app: app}
}

type pbJobStore struct {
	app core.App
}

func (s *pbJobStore) Get(id string) (*Job, error) {
	record, err := s.app.FindRecordById(jobsCollection, id)
	if err != nil {
		return nil, fmt.Errorf("finding job %s: %w", id, err)
	}
	return jobFromRecord(record)
}

func (s *pbJobStore) Create(job *Job) error {
	collection, err := s.app.FindCollectionByNameOrId(jobsCollection)
	if err != nil {
		return fmt.Errorf("finding %s collection: %w", jobsCollection, err)
	}

	record := core.NewRecord(collection)
	applyJobToRecord(record, job)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("creating job: %w", err)
	}

	job.ID = record.Id
	return nil
}

func (s *pbJobStore) Save(job *Job) error {
	record, err := s.app.FindRecordById(jobsCollection, job.ID)
	if err != nil {
		return fmt.Errorf("finding job %s: %w", job.ID, err)
	}

	applyJobToRecord(record, job)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("saving job %s: %w", job.ID, err)
	}
	return nil
}

func (s *pbJobStore) FindActive(organizationID string) (*Job, error) {
	records, err := s.app.FindRecordsByFilter(
		jobsCollection,
		"organization = {:org} && (status = {:pending} || status = {:running})",
		"-created",
		1,
		0,
		dbx.Params{"org": organizationID, "pending": StatusPending, "running": StatusRunning},
	)
	if err != nil {
		return nil, fmt.Errorf("finding active job: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return jobFromRecord(records[0])
}

func (s *pbJobStore) FindRunning() ([]*Job, error) {
	records, err := s.app.FindRecordsByFilter(
		jobsCollection,
		"status = {:running}",
		"-created",
		0,
		0,
		dbx.Params{"running": StatusRunning},
	)
	if err != nil {
		return nil, fmt.Errorf("finding running jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(records))
	for _, record := range records {
		job, err := jobFromRecord(record)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func applyJobToRecord(record *core.Record, job *Job) {
	record.Set("organization", job.OrganizationID)
	record.Set("status", job.Status)
	record.Set("data_types", job.DataTypes)
	record.Set("start_date", job.StartDate.UTC().Format("2006-01-02 15:04:05.000Z"))
	record.Set("end_date", job.EndDate.UTC().Format("2006-01-02 15:04:05.000Z"))
	record.Set("progress", job.Progress)
	record.Set("current_data_type", job.CurrentDataType)
	record.Set("current_offset", job.CurrentOffset)
	record.Set("error", job.Error)

	if job.PausedAt != nil {
		record.Set("paused_at", job.PausedAt.UTC().Format("2006-01-02 15:04:05.000Z"))
	} else {
		record.Set("paused_at", "")
	}
}

func jobFromRecord(record *core.Record) (*Job, error) {
	job := &Job{
		ID:              record.Id,
		OrganizationID:  record.GetString("organization"),
		Status:          record.GetString("status"),
		StartDate:       record.GetDateTime("start_date").Time(),
		EndDate:         record.GetDateTime("end_date").Time(),
		CurrentDataType: record.GetString("current_data_type"),
		CurrentOffset:   record.GetInt("current_offset"),
		Error:           record.GetString("error"),
		Created:         record.GetDateTime("created").Time(),
		Updated:         record.GetDateTime("updated").Time(),
		Progress:        NewProgress(),
	}

	if err := record.UnmarshalJSONField("data_types", &job.DataTypes); err != nil {
		return nil, fmt.Errorf("decode job %s data_types: %w", record.Id, err)
	}

	// A fresh record may have an empty progress blob; keep the empty
	// Progress rather than failing.
	if raw := record.GetString("progress"); raw != "" && raw != "null" {
		if err := record.UnmarshalJSONField("progress", job.Progress); err != nil {
			return nil, fmt.Errorf("decode job %s progress: %w", record.Id, err)
		}
	}

	if pausedAt := record.GetDateTime("paused_at"); !pausedAt.IsZero() {
		t := pausedAt.Time()
		job.PausedAt = &t
	}

	return job, nil
}
