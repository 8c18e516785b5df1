package importer

import (
	"fmt"
	"log/slog"

	"github.com/pocketbase/pocketbase/core"
)

// EnsureCollections creates the studio data collections on first boot.
// Existing collections are left untouched so operator schema tweaks survive
// restarts.
func EnsureCollections(app core.App) error {
	builders := []struct {
		name  string
		build func(app core.App) *core.Collection
	}{
		{"organizations", organizationsCollection},
		{"students", studentsCollection},
		{"classes", classesCollection},
		{"class_schedules", classSchedulesCollection},
		{"attendance", attendanceCollection},
		{"revenue", revenueCollection},
		{"import_jobs", importJobsCollection},
		{"scheduled_imports", scheduledImportsCollection},
		{"skipped_records", skippedRecordsCollection},
	}

	for _, b := range builders {
		if _, err := app.FindCollectionByNameOrId(b.name); err == nil {
			continue
		}
		col := b.build(app)
		if col == nil {
			return fmt.Errorf("collection %s depends on a collection that does not exist yet", b.name)
		}
		if err := app.Save(col); err != nil {
			return fmt.Errorf("creating collection %s: %w", b.name, err)
		}
		slog.Info("Created collection", "name", b.name)
	}

	return nil
}

func relationTo(app core.App, name, target string, required bool) *core.RelationField {
	col, err := app.FindCollectionByNameOrId(target)
	if err != nil {
		return nil
	}
	return &core.RelationField{
		Name:         name,
		CollectionId: col.Id,
		MaxSelect:    1,
		Required:     required,
	}
}

func withTimestamps(col *core.Collection) *core.Collection {
	col.Fields.Add(
		&core.AutodateField{Name: "created", OnCreate: true},
		&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
	)
	return col
}

func organizationsCollection(app core.App) *core.Collection {
	col := core.NewBaseCollection("organizations")
	col.Fields.Add(
		&core.TextField{Name: "name", Required: true},
		&core.TextField{Name: "mindbody_site_id", Required: true},
		&core.TextField{Name: "mindbody_api_key"},
		&core.TextField{Name: "mindbody_username"},
		&core.TextField{Name: "mindbody_password"},
		&core.BoolField{Name: "active"},
	)
	col.AddIndex("idx_organizations_site", true, "mindbody_site_id", "")
	return withTimestamps(col)
}

func studentsCollection(app core.App) *core.Collection {
	org := relationTo(app, "organization", "organizations", true)
	if org == nil {
		return nil
	}
	col := core.NewBaseCollection("students")
	col.Fields.Add(
		org,
		&core.TextField{Name: "mindbody_client_id", Required: true},
		&core.TextField{Name: "first_name"},
		&core.TextField{Name: "last_name"},
		&core.EmailField{Name: "email"},
		&core.TextField{Name: "phone"},
		&core.TextField{Name: "status"},
		&core.DateField{Name: "joined_at"},
	)
	col.AddIndex("idx_students_client", true, "organization, mindbody_client_id", "")
	return withTimestamps(col)
}

func classesCollection(app core.App) *core.Collection {
	org := relationTo(app, "organization", "organizations", true)
	if org == nil {
		return nil
	}
	col := core.NewBaseCollection("classes")
	col.Fields.Add(
		org,
		&core.TextField{Name: "mindbody_class_id", Required: true},
		&core.TextField{Name: "name", Required: true},
		&core.TextField{Name: "description"},
		&core.TextField{Name: "instructor"},
	)
	col.AddIndex("idx_classes_external", true, "organization, mindbody_class_id", "")
	return withTimestamps(col)
}

func classSchedulesCollection(app core.App) *core.Collection {
	org := relationTo(app, "organization", "organizations", true)
	class := relationTo(app, "class", "classes", true)
	if org == nil || class == nil {
		return nil
	}
	col := core.NewBaseCollection("class_schedules")
	col.Fields.Add(
		org,
		class,
		&core.TextField{Name: "mindbody_schedule_id", Required: true},
		&core.DateField{Name: "start_time", Required: true},
		&core.DateField{Name: "end_time"},
		&core.TextField{Name: "location"},
		&core.NumberField{Name: "capacity"},
	)
	col.AddIndex("idx_schedules_external", true, "organization, mindbody_schedule_id", "")
	return withTimestamps(col)
}

func attendanceCollection(app core.App) *core.Collection {
	org := relationTo(app, "organization", "organizations", true)
	student := relationTo(app, "student", "students", true)
	schedule := relationTo(app, "schedule", "class_schedules", true)
	if org == nil || student == nil || schedule == nil {
		return nil
	}
	col := core.NewBaseCollection("attendance")
	col.Fields.Add(
		org,
		student,
		schedule,
		&core.DateField{Name: "date", Required: true},
		&core.SelectField{
			Name:      "status",
			Values:    []string{"attended", "absent", "late_cancelled", "early_cancelled", "signed_in"},
			MaxSelect: 1,
		},
		&core.TextField{Name: "dedup_key", Required: true},
		&core.SelectField{
			Name:      "source",
			Values:    []string{"api", "csv"},
			MaxSelect: 1,
		},
	)
	// One row per student/schedule/date across both import paths.
	col.AddIndex("idx_attendance_dedup", true, "organization, dedup_key", "")
	return withTimestamps(col)
}

func revenueCollection(app core.App) *core.Collection {
	org := relationTo(app, "organization", "organizations", true)
	student := relationTo(app, "student", "students", false)
	if org == nil || student == nil {
		return nil
	}
	col := core.NewBaseCollection("revenue")
	col.Fields.Add(
		org,
		student,
		&core.TextField{Name: "mindbody_sale_id", Required: true},
		&core.DateField{Name: "sale_date"},
		&core.NumberField{Name: "amount"},
		&core.TextField{Name: "item_name"},
		&core.TextField{Name: "payment_method"},
		&core.SelectField{
			Name:      "source",
			Values:    []string{"sales", "transactions"},
			MaxSelect: 1,
		},
	)
	col.AddIndex("idx_revenue_sale", true, "organization, mindbody_sale_id", "")
	return withTimestamps(col)
}

func importJobsCollection(app core.App) *core.Collection {
	org := relationTo(app, "organization", "organizations", true)
	if org == nil {
		return nil
	}
	col := core.NewBaseCollection("import_jobs")
	col.Fields.Add(
		org,
		&core.SelectField{
			Name: "status",
			Values: []string{
				StatusPending, StatusRunning, StatusPaused,
				StatusCancelled, StatusCompleted, StatusFailed,
			},
			MaxSelect: 1,
			Required:  true,
		},
		&core.JSONField{Name: "data_types", MaxSize: 2000},
		&core.DateField{Name: "start_date"},
		&core.DateField{Name: "end_date"},
		&core.JSONField{Name: "progress", MaxSize: 100000},
		&core.TextField{Name: "current_data_type"},
		&core.NumberField{Name: "current_offset"},
		&core.TextField{Name: "error"},
		&core.DateField{Name: "paused_at"},
	)
	col.AddIndex("idx_import_jobs_org_status", false, "organization, status", "")
	return withTimestamps(col)
}

func scheduledImportsCollection(app core.App) *core.Collection {
	org := relationTo(app, "organization", "organizations", true)
	if org == nil {
		return nil
	}
	col := core.NewBaseCollection("scheduled_imports")
	col.Fields.Add(
		org,
		&core.TextField{Name: "cron_expression", Required: true},
		&core.JSONField{Name: "data_types", MaxSize: 2000},
		&core.NumberField{Name: "lookback_days"},
		&core.BoolField{Name: "enabled"},
		&core.DateField{Name: "last_run_at"},
		&core.SelectField{
			Name:      "last_run_status",
			Values:    []string{"completed", "failed", "skipped"},
			MaxSelect: 1,
		},
		&core.TextField{Name: "last_run_error"},
	)
	col.AddIndex("idx_scheduled_imports_org", true, "organization", "")
	return withTimestamps(col)
}

func skippedRecordsCollection(app core.App) *core.Collection {
	org := relationTo(app, "organization", "organizations", true)
	if org == nil {
		return nil
	}
	col := core.NewBaseCollection("skipped_records")
	col.Fields.Add(
		org,
		&core.TextField{Name: "job"},
		&core.TextField{Name: "data_type"},
		&core.TextField{Name: "reason"},
		&core.JSONField{Name: "payload", MaxSize: 50000},
	)
	return withTimestamps(col)
}
