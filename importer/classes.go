package importer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pocketbase/dbx"
)

// ImportClassesBatch imports one page of scheduled class instances. Each
// provider class row carries both the class description and one concrete
// occurrence, so a batch upserts into classes and class_schedules together.
func (imp *Importer) ImportClassesBatch(ctx context.Context, job *Job, offset int) (BatchResult, error) {
	page, err := imp.client.GetClassesPage(ctx, job.StartDate, job.EndDate, imp.settings.PageSize, offset)
	if err != nil {
		return BatchResult{}, fmt.Errorf("fetching classes page at offset %d: %w", offset, err)
	}

	existingClasses, err := imp.preloadByField("classes", "mindbody_class_id")
	if err != nil {
		return BatchResult{}, err
	}
	existingSchedules, err := imp.preloadByField("class_schedules", "mindbody_schedule_id")
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{NextCursor: offset}
	if page.Pagination != nil {
		result.Total = page.Pagination.TotalResults
	}

	for _, class := range page.Results {
		scheduleID := asString(class["Id"])
		if scheduleID == "" {
			imp.stats.Errors++
			imp.recordSkip(DataTypeClasses, "missing class instance id", class)
			continue
		}

		classID, name, instructor, description := classDescription(class)
		if classID == "" {
			classID = scheduleID
		}

		classData := map[string]interface{}{
			"organization":      imp.orgID,
			"mindbody_class_id": classID,
			"name":              name,
			"description":       description,
			"instructor":        instructor,
		}
		createdClass, updatedClass, err := imp.upsert("classes", existingClasses[classID], classData)
		if err != nil {
			slog.Error("Importing class", "classId", classID, "error", err)
			imp.stats.Errors++
			continue
		}

		classRecordID := ""
		if rec, ok := existingClasses[classID]; ok {
			classRecordID = rec.Id
		} else {
			// Re-read once so the freshly created class can be related.
			records, err := imp.app.FindRecordsByFilter(
				"classes",
				"organization = {:org} && mindbody_class_id = {:cid}",
				"", 1, 0,
				dbx.Params{"org": imp.orgID, "cid": classID},
			)
			if err != nil || len(records) == 0 {
				slog.Error("Resolving class record after create", "classId", classID, "error", err)
				imp.stats.Errors++
				continue
			}
			existingClasses[classID] = records[0]
			classRecordID = records[0].Id
		}

		scheduleData := map[string]interface{}{
			"organization":         imp.orgID,
			"class":                classRecordID,
			"mindbody_schedule_id": scheduleID,
			"location":             nestedString(class, "Location", "Name"),
		}
		if start, ok := class["StartDateTime"].(string); ok {
			if t, ok := parseProviderTime(start); ok {
				scheduleData["start_time"] = storedTime(t)
			}
		}
		if end, ok := class["EndDateTime"].(string); ok {
			if t, ok := parseProviderTime(end); ok {
				scheduleData["end_time"] = storedTime(t)
			}
		}
		if capacity := asFloat(class["MaxCapacity"]); capacity > 0 {
			scheduleData["capacity"] = capacity
		}

		createdSched, updatedSched, err := imp.upsert("class_schedules", existingSchedules[scheduleID], scheduleData)
		if err != nil {
			slog.Error("Importing class schedule", "scheduleId", scheduleID, "error", err)
			imp.stats.Errors++
			continue
		}

		if createdClass || createdSched {
			result.Imported++
		}
		if updatedClass || updatedSched {
			result.Updated++
		}
	}

	result.NextCursor, result.Completed = page.Advance(offset)
	return result, nil
}

func classDescription(class map[string]interface{}) (id, name, instructor, description string) {
	if desc, ok := class["ClassDescription"].(map[string]interface{}); ok {
		id = asString(desc["Id"])
		name = asString(desc["Name"])
		description = asString(desc["Description"])
	}
	if name == "" {
		name = asString(class["Name"])
	}
	if staff, ok := class["Staff"].(map[string]interface{}); ok {
		instructor = asString(staff["Name"])
		if instructor == "" {
			first := asString(staff["FirstName"])
			last := asString(staff["LastName"])
			if first != "" || last != "" {
				instructor = first
				if last != "" {
					if instructor != "" {
						instructor += " "
					}
					instructor += last
				}
			}
		}
	}
	return id, name, instructor, description
}

func nestedString(data map[string]interface{}, outer, inner string) string {
	if nested, ok := data[outer].(map[string]interface{}); ok {
		return asString(nested[inner])
	}
	return ""
}
