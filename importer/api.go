package importer

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"github.com/kennangle/mbodataanalysis/config"
	"github.com/kennangle/mbodataanalysis/google"
)

const dateOnlyFormat = "2006-01-02"

// Service bundles the pieces the import API endpoints need.
type Service struct {
	app       core.App
	store     JobStore
	worker    *Worker
	scheduler *Scheduler
	settings  *config.Settings
}

func NewService(app core.App, store JobStore, worker *Worker, scheduler *Scheduler, settings *config.Settings) *Service {
	return &Service{
		app:       app,
		store:     store,
		worker:    worker,
		scheduler: scheduler,
		settings:  settings,
	}
}

// requireAuth wraps a handler function to require authentication
func requireAuth(handler func(*core.RequestEvent) error) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if e.Auth == nil {
			return apis.NewUnauthorizedError("Authentication required", nil)
		}
		return handler(e)
	}
}

// RegisterRoutes sets up the import API endpoints.
func (s *Service) RegisterRoutes(e *core.ServeEvent) {
	// Job lifecycle
	e.Router.POST("/api/studio/import/jobs", requireAuth(s.handleCreateJob))
	e.Router.GET("/api/studio/import/jobs/{id}", requireAuth(s.handleGetJob))
	e.Router.POST("/api/studio/import/jobs/{id}/pause", requireAuth(s.handlePauseJob))
	e.Router.POST("/api/studio/import/jobs/{id}/resume", requireAuth(s.handleResumeJob))
	e.Router.POST("/api/studio/import/jobs/{id}/cancel", requireAuth(s.handleCancelJob))

	// CSV attendance fast path
	e.Router.POST("/api/studio/import/attendance_upload", requireAuth(s.handleAttendanceUpload))

	// Recurring schedule configuration
	e.Router.GET("/api/studio/import/schedule", requireAuth(s.handleGetSchedule))
	e.Router.POST("/api/studio/import/schedule", requireAuth(s.handleSetSchedule))
	e.Router.POST("/api/studio/import/schedule/run", requireAuth(s.handleRunSchedule))

	// Exports
	e.Router.GET("/api/studio/export/attendance", requireAuth(s.handleExportAttendance))
	e.Router.POST("/api/studio/export/sheets", requireAuth(s.handleExportSheets))
}

type createJobRequest struct {
	Organization string   `json:"organization"`
	DataTypes    []string `json:"data_types"`
	StartDate    string   `json:"start_date"`
	EndDate      string   `json:"end_date"`
}

func (s *Service) handleCreateJob(e *core.RequestEvent) error {
	var req createJobRequest
	if err := e.BindBody(&req); err != nil {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": "Invalid request body"})
	}
	if req.Organization == "" {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": "organization is required"})
	}
	if _, err := s.app.FindRecordById("organizations", req.Organization); err != nil {
		return e.JSON(http.StatusNotFound, map[string]interface{}{"error": "Unknown organization"})
	}

	for _, dataType := range req.DataTypes {
		if !ValidDataType(dataType) {
			return e.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": fmt.Sprintf("unknown data type %q", dataType),
			})
		}
	}
	dataTypes := OrderedDataTypes(req.DataTypes)
	if len(dataTypes) == 0 {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": "no data types selected"})
	}

	startDate, endDate, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}

	// One active job per organization. Paused jobs do not block: a new
	// job supersedes the paused one, which stays resumable until
	// cancelled.
	if active, err := s.store.FindActive(req.Organization); err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	} else if active != nil {
		return e.JSON(http.StatusConflict, map[string]interface{}{
			"error":  "an import job is already active for this organization",
			"job_id": active.ID,
			"status": active.Status,
		})
	}

	job := &Job{
		OrganizationID: req.Organization,
		Status:         StatusPending,
		DataTypes:      dataTypes,
		StartDate:      startDate,
		EndDate:        endDate,
		Progress:       NewProgress(),
	}
	if err := s.store.Create(job); err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}

	s.worker.Enqueue(job.ID)
	slog.Info("Created import job", "jobId", job.ID, "org", req.Organization, "dataTypes", dataTypes)

	return e.JSON(http.StatusAccepted, jobResponse(job))
}

func (s *Service) handleGetJob(e *core.RequestEvent) error {
	job, err := s.store.Get(e.Request.PathValue("id"))
	if err != nil {
		return e.JSON(http.StatusNotFound, map[string]interface{}{"error": "Job not found"})
	}
	return e.JSON(http.StatusOK, jobResponse(job))
}

func (s *Service) handlePauseJob(e *core.RequestEvent) error {
	job, err := s.store.Get(e.Request.PathValue("id"))
	if err != nil {
		return e.JSON(http.StatusNotFound, map[string]interface{}{"error": "Job not found"})
	}
	if job.Status != StatusPending && job.Status != StatusRunning {
		return e.JSON(http.StatusConflict, map[string]interface{}{
			"error": fmt.Sprintf("cannot pause a %s job", job.Status),
		})
	}

	now := time.Now().UTC()
	job.Status = StatusPaused
	job.PausedAt = &now
	if err := s.store.Save(job); err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}

	// The worker notices at the next batch boundary; progress up to the
	// last persisted batch is kept.
	return e.JSON(http.StatusOK, jobResponse(job))
}

func (s *Service) handleResumeJob(e *core.RequestEvent) error {
	job, err := s.store.Get(e.Request.PathValue("id"))
	if err != nil {
		return e.JSON(http.StatusNotFound, map[string]interface{}{"error": "Job not found"})
	}
	if job.Status != StatusPaused && job.Status != StatusFailed {
		return e.JSON(http.StatusConflict, map[string]interface{}{
			"error": fmt.Sprintf("cannot resume a %s job", job.Status),
		})
	}

	// A job created after this one was paused supersedes it; resuming the
	// old one would put two jobs in the queue for the same organization.
	if active, err := s.store.FindActive(job.OrganizationID); err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	} else if resumeConflict(job, active) {
		return e.JSON(http.StatusConflict, map[string]interface{}{
			"error":  "an import job is already active for this organization",
			"job_id": active.ID,
			"status": active.Status,
		})
	}

	job.Status = StatusPending
	job.Error = ""
	job.PausedAt = nil
	if err := s.store.Save(job); err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}

	s.worker.Enqueue(job.ID)
	slog.Info("Resumed import job", "jobId", job.ID, "dataType", job.CurrentDataType, "offset", job.CurrentOffset)
	return e.JSON(http.StatusOK, jobResponse(job))
}

func (s *Service) handleCancelJob(e *core.RequestEvent) error {
	job, err := s.store.Get(e.Request.PathValue("id"))
	if err != nil {
		return e.JSON(http.StatusNotFound, map[string]interface{}{"error": "Job not found"})
	}
	// Force-cancel skips state validation on purpose: it is the escape
	// hatch for jobs wedged in any status.
	job.Status = StatusCancelled
	if err := s.store.Save(job); err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}
	return e.JSON(http.StatusOK, jobResponse(job))
}

func (s *Service) handleAttendanceUpload(e *core.RequestEvent) error {
	orgID := e.Request.URL.Query().Get("organization")
	if orgID == "" {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": "organization is required"})
	}
	if _, err := s.app.FindRecordById("organizations", orgID); err != nil {
		return e.JSON(http.StatusNotFound, map[string]interface{}{"error": "Unknown organization"})
	}

	if err := e.Request.ParseMultipartForm(32 << 20); err != nil {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": "Invalid multipart form"})
	}
	file, header, err := e.Request.FormFile("file")
	if err != nil {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": "Missing file field"})
	}
	defer file.Close()

	imp := NewCSVImporter(s.app, s.settings, orgID)
	result, err := imp.ImportAttendanceCSV(file)
	if err != nil {
		slog.Error("CSV attendance upload failed", "org", orgID, "filename", header.Filename, "error", err)
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}

	slog.Info("CSV attendance uploaded", "org", orgID, "filename", header.Filename, "imported", result.Imported)
	return e.JSON(http.StatusOK, result)
}

type scheduleRequest struct {
	Organization   string   `json:"organization"`
	CronExpression string   `json:"cron_expression"`
	DataTypes      []string `json:"data_types"`
	LookbackDays   int      `json:"lookback_days"`
	Enabled        bool     `json:"enabled"`
}

func (s *Service) handleGetSchedule(e *core.RequestEvent) error {
	orgID := e.Request.URL.Query().Get("organization")
	if orgID == "" {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": "organization is required"})
	}
	if _, err := s.app.FindRecordById("organizations", orgID); err != nil {
		return e.JSON(http.StatusNotFound, map[string]interface{}{"error": "Unknown organization"})
	}

	record, err := s.findSchedule(orgID)
	if err != nil {
		return e.JSON(http.StatusNotFound, map[string]interface{}{"error": "No schedule configured"})
	}

	var dataTypes []string
	_ = record.UnmarshalJSONField("data_types", &dataTypes)

	return e.JSON(http.StatusOK, map[string]interface{}{
		"organization":    orgID,
		"cron_expression": record.GetString("cron_expression"),
		"data_types":      dataTypes,
		"lookback_days":   record.GetInt("lookback_days"),
		"enabled":         record.GetBool("enabled"),
		"last_run_at":     record.GetString("last_run_at"),
		"last_run_status": record.GetString("last_run_status"),
		"last_run_error":  record.GetString("last_run_error"),
	})
}

func (s *Service) handleSetSchedule(e *core.RequestEvent) error {
	var req scheduleRequest
	if err := e.BindBody(&req); err != nil {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": "Invalid request body"})
	}
	if req.Organization == "" {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": "organization is required"})
	}
	if _, err := s.app.FindRecordById("organizations", req.Organization); err != nil {
		return e.JSON(http.StatusNotFound, map[string]interface{}{"error": "Unknown organization"})
	}
	if err := ValidateCron(req.CronExpression); err != nil {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": fmt.Sprintf("invalid cron expression: %v", err),
		})
	}
	for _, dataType := range req.DataTypes {
		if !ValidDataType(dataType) {
			return e.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": fmt.Sprintf("unknown data type %q", dataType),
			})
		}
	}

	record, err := s.findSchedule(req.Organization)
	if err != nil {
		col, err := s.app.FindCollectionByNameOrId("scheduled_imports")
		if err != nil {
			return e.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		}
		record = core.NewRecord(col)
		record.Set("organization", req.Organization)
	}

	record.Set("cron_expression", req.CronExpression)
	record.Set("data_types", OrderedDataTypes(req.DataTypes))
	record.Set("lookback_days", req.LookbackDays)
	record.Set("enabled", req.Enabled)
	if err := s.app.Save(record); err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}

	// The scheduler picks the change up on its next resync pass.
	slog.Info("Updated import schedule", "org", req.Organization, "expr", req.CronExpression, "enabled", req.Enabled)
	return e.JSON(http.StatusOK, map[string]interface{}{"status": "saved"})
}

func (s *Service) handleRunSchedule(e *core.RequestEvent) error {
	orgID := e.Request.URL.Query().Get("organization")
	if orgID == "" {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": "organization is required"})
	}
	if _, err := s.app.FindRecordById("organizations", orgID); err != nil {
		return e.JSON(http.StatusNotFound, map[string]interface{}{"error": "Unknown organization"})
	}
	record, err := s.findSchedule(orgID)
	if err != nil {
		return e.JSON(http.StatusNotFound, map[string]interface{}{"error": "No schedule configured"})
	}

	s.scheduler.TriggerNow(record.Id)
	return e.JSON(http.StatusAccepted, map[string]interface{}{"status": "triggered"})
}

func (s *Service) handleExportAttendance(e *core.RequestEvent) error {
	orgID := e.Request.URL.Query().Get("organization")
	if orgID == "" {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": "organization is required"})
	}
	if _, err := s.app.FindRecordById("organizations", orgID); err != nil {
		return e.JSON(http.StatusNotFound, map[string]interface{}{"error": "Unknown organization"})
	}

	start, end, err := parseDateRange(
		e.Request.URL.Query().Get("start"),
		e.Request.URL.Query().Get("end"),
	)
	if err != nil {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}

	e.Response.Header().Set("Content-Type", "text/csv")
	e.Response.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=attendance_%s_%s.csv",
			start.Format(dateOnlyFormat), end.Format(dateOnlyFormat)))

	imp := NewCSVImporter(s.app, s.settings, orgID)
	if err := imp.ExportAttendanceCSV(e.Response, start, end); err != nil {
		slog.Error("Attendance export failed", "org", orgID, "error", err)
		return err
	}
	return nil
}

func (s *Service) handleExportSheets(e *core.RequestEvent) error {
	orgID := e.Request.URL.Query().Get("organization")
	if orgID == "" {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{"error": "organization is required"})
	}
	if _, err := s.app.FindRecordById("organizations", orgID); err != nil {
		return e.JSON(http.StatusNotFound, map[string]interface{}{"error": "Unknown organization"})
	}

	service, err := google.NewSheetsClient(e.Request.Context())
	if err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}
	if service == nil {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Google Sheets export is not enabled",
		})
	}
	spreadsheetID := google.GetSpreadsheetID()
	if spreadsheetID == "" {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "No spreadsheet configured",
		})
	}

	imp := NewCSVImporter(s.app, s.settings, orgID)
	writer := NewRealSheetsWriter(service)
	if err := imp.ExportMetricsToSheets(e.Request.Context(), writer, spreadsheetID); err != nil {
		slog.Error("Sheets export failed", "org", orgID, "error", err)
		return e.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}

	return e.JSON(http.StatusOK, map[string]interface{}{"status": "exported", "spreadsheet_id": spreadsheetID})
}

func (s *Service) findSchedule(orgID string) (*core.Record, error) {
	filter, params := byOrganization(orgID)
	records, err := s.app.FindRecordsByFilter("scheduled_imports", filter, "", 1, 0, params)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no schedule for organization %s", orgID)
	}
	return records[0], nil
}

// resumeConflict reports whether another job is already active for the
// organization, which blocks resuming this one.
func resumeConflict(job, active *Job) bool {
	return active != nil && active.ID != job.ID
}

func parseDateRange(start, end string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	startDate := now.AddDate(0, -1, 0)
	endDate := now

	if start != "" {
		t, err := time.Parse(dateOnlyFormat, start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date %q, expected YYYY-MM-DD", start)
		}
		startDate = t
	}
	if end != "" {
		t, err := time.Parse(dateOnlyFormat, end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date %q, expected YYYY-MM-DD", end)
		}
		endDate = t
	}
	if endDate.Before(startDate) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date is before start_date")
	}
	return startDate, endDate, nil
}

func jobResponse(job *Job) map[string]interface{} {
	resp := map[string]interface{}{
		"id":           job.ID,
		"organization": job.OrganizationID,
		"status":       job.Status,
		"data_types":   job.DataTypes,
		"start_date":   job.StartDate.Format(dateOnlyFormat),
		"end_date":     job.EndDate.Format(dateOnlyFormat),
		"progress":     job.Progress,
	}
	if job.CurrentDataType != "" {
		resp["current_data_type"] = job.CurrentDataType
		resp["current_offset"] = job.CurrentOffset
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	if job.PausedAt != nil {
		resp["paused_at"] = job.PausedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
