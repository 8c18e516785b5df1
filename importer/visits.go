package importer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/pocketbase/core"
)

// scheduleMatchTolerance is how far a visit's start time may drift from a
// stored schedule's start time and still match. Providers round times in
// some exports, so an exact match is tried first and the tolerance second.
const scheduleMatchTolerance = 5 * time.Minute

// ImportVisitsBatch imports class visits for a slice of students. The cursor
// is the student index into the organization's roster sorted by external
// client id, so a resumed job continues with the same students it would have
// processed next.
func (imp *Importer) ImportVisitsBatch(ctx context.Context, job *Job, cursor int) (BatchResult, error) {
	students, err := imp.studentRoster()
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{NextCursor: cursor, Total: len(students)}
	if cursor >= len(students) {
		result.Completed = true
		return result, nil
	}

	schedules, err := imp.scheduleIndex()
	if err != nil {
		return BatchResult{}, err
	}
	existing, err := imp.preloadByField("attendance", "dedup_key")
	if err != nil {
		return BatchResult{}, err
	}

	end := cursor + imp.settings.StudentsPerBatch
	if end > len(students) {
		end = len(students)
	}

	for _, student := range students[cursor:end] {
		clientID := student.GetString("mindbody_client_id")
		visits, err := imp.client.GetClientVisits(ctx, clientID, job.StartDate, job.EndDate)
		if err != nil {
			return BatchResult{}, fmt.Errorf("fetching visits for client %s: %w", clientID, err)
		}

		planned, unmatched, malformed := resolveVisits(student.Id, visits, schedules, existing)

		for _, visit := range malformed {
			imp.stats.Errors++
			imp.recordSkip(DataTypeVisits, "visit missing start time", visit)
		}
		for _, visit := range unmatched {
			imp.stats.Skipped++
			imp.recordSkip(DataTypeVisits, "no schedule matches visit start time", visit)
		}
		imp.stats.Skipped += len(visits) - len(planned) - len(unmatched) - len(malformed)

		for _, row := range planned {
			data := map[string]interface{}{
				"organization": imp.orgID,
				"student":      student.Id,
				"schedule":     row.scheduleID,
				"date":         storedTime(row.start),
				"status":       row.status,
				"dedup_key":    row.key,
				"source":       "api",
			}
			if _, _, err := imp.upsert("attendance", nil, data); err != nil {
				slog.Error("Importing visit", "clientId", clientID, "error", err)
				imp.stats.Errors++
				continue
			}
			result.Imported++
		}
	}

	result.NextCursor = end
	result.Completed = end >= len(students)
	return result, nil
}

// plannedVisit is one attendance row resolved from a provider visit.
type plannedVisit struct {
	scheduleID string
	start      time.Time
	status     string
	key        string
}

// resolveVisits matches one student's visits against the schedule index and
// the dedup map. The map covers stored attendance rows and is extended with
// each planned key, so a visit repeated within the same batch collapses to
// one row instead of tripping the unique index.
func resolveVisits(studentID string, visits []map[string]interface{}, schedules *scheduleIndexData, seen map[string]*core.Record) (planned []plannedVisit, unmatched, malformed []map[string]interface{}) {
	for _, visit := range visits {
		start, ok := visitStart(visit)
		if !ok {
			malformed = append(malformed, visit)
			continue
		}

		schedule := schedules.match(start)
		if schedule == nil {
			unmatched = append(unmatched, visit)
			continue
		}

		key := attendanceKey(studentID, schedule.id, start)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = nil

		planned = append(planned, plannedVisit{
			scheduleID: schedule.id,
			start:      start,
			status:     visitStatus(visit),
			key:        key,
		})
	}
	return planned, unmatched, malformed
}

// studentRoster returns the organization's students in a stable order so the
// per-student cursor means the same thing across resumes.
func (imp *Importer) studentRoster() ([]*core.Record, error) {
	filter, params := byOrganization(imp.orgID)
	records, err := imp.app.FindRecordsByFilter("students", filter, "mindbody_client_id", 0, 0, params)
	if err != nil {
		return nil, fmt.Errorf("loading student roster: %w", err)
	}
	return records, nil
}

func visitStart(visit map[string]interface{}) (time.Time, bool) {
	if start, ok := visit["StartDateTime"].(string); ok {
		return parseProviderTime(start)
	}
	return time.Time{}, false
}

func visitStatus(visit map[string]interface{}) string {
	if signedIn, ok := visit["SignedIn"].(bool); ok && signedIn {
		return "signed_in"
	}
	if lateCancelled, ok := visit["LateCancelled"].(bool); ok && lateCancelled {
		return "late_cancelled"
	}
	return "attended"
}
