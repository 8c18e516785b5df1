package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
)

// CSVImportResult summarizes one CSV attendance upload.
type CSVImportResult struct {
	Rows     int `json:"rows"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// csvColumns maps each logical attendance field to the header spellings
// studio exports use for it. Matching is case-insensitive on the trimmed
// header text.
var csvColumns = map[string][]string{
	"client_id":  {"Client ID", "ClientId", "Mindbody Id", "Mindbody ID"},
	"email":      {"Email", "Email Address"},
	"class_name": {"Class Name", "Class"},
	"class_date": {"Class Date", "Date"},
	"class_time": {"Class Time", "Time", "Start Time"},
	"status":     {"Status", "Attendance Status"},
}

var csvDateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

var csvTimeFormats = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
}

// ImportAttendanceCSV imports attendance rows from a studio CSV export.
// Rows are matched to stored students and schedules; rows that cannot be
// resolved are recorded as skipped and never abort the upload. Rows already
// imported through either path are deduplicated by the shared attendance
// key.
func (imp *Importer) ImportAttendanceCSV(r io.Reader) (*CSVImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	columns, err := resolveCSVColumns(header)
	if err != nil {
		return nil, err
	}

	studentsByClientID, err := imp.preloadByField("students", "mindbody_client_id")
	if err != nil {
		return nil, err
	}
	byEmail, err := imp.preloadByField("students", "email")
	if err != nil {
		return nil, err
	}
	studentsByEmail := make(map[string]*core.Record, len(byEmail))
	for email, record := range byEmail {
		studentsByEmail[strings.ToLower(email)] = record
	}
	schedules, err := imp.scheduleIndex()
	if err != nil {
		return nil, err
	}
	existing, err := imp.preloadByField("attendance", "dedup_key")
	if err != nil {
		return nil, err
	}

	result := &CSVImportResult{}
	line := 1

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			slog.Warn("Unreadable CSV row", "line", line, "error", err)
			result.Errors++
			continue
		}
		result.Rows++

		cell := func(field string) string {
			idx, ok := columns[field]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		student := studentsByClientID[cell("client_id")]
		if student == nil {
			if email := strings.ToLower(cell("email")); email != "" {
				student = studentsByEmail[email]
			}
		}
		if student == nil {
			imp.recordSkip(DataTypeVisits, "CSV row matches no student",
				map[string]interface{}{"line": line, "client_id": cell("client_id"), "email": cell("email")})
			result.Skipped++
			continue
		}

		start, ok := parseCSVDateTime(cell("class_date"), cell("class_time"))
		if !ok {
			slog.Warn("Unparseable CSV date/time", "line", line, "date", cell("class_date"), "time", cell("class_time"))
			result.Errors++
			continue
		}

		schedule := schedules.matchNamed(start, cell("class_name"))
		if schedule == nil {
			imp.recordSkip(DataTypeVisits, "CSV row matches no class schedule",
				map[string]interface{}{"line": line, "class_name": cell("class_name"), "start": start.Format(time.RFC3339)})
			result.Skipped++
			continue
		}

		key := attendanceKey(student.Id, schedule.id, start)
		if _, seen := existing[key]; seen {
			result.Skipped++
			continue
		}

		data := map[string]interface{}{
			"organization": imp.orgID,
			"student":      student.Id,
			"schedule":     schedule.id,
			"date":         storedTime(start),
			"status":       csvStatus(cell("status")),
			"dedup_key":    key,
			"source":       "csv",
		}
		if _, _, err := imp.upsert("attendance", nil, data); err != nil {
			slog.Error("Importing CSV attendance row", "line", line, "error", err)
			result.Errors++
			continue
		}
		existing[key] = nil
		result.Imported++
	}

	slog.Info("CSV attendance import finished",
		"rows", result.Rows, "imported", result.Imported,
		"skipped", result.Skipped, "errors", result.Errors)
	return result, nil
}

// resolveCSVColumns maps logical fields to column indexes, accepting any of
// the known header spellings. Missing optional columns are tolerated; the
// date column is required.
func resolveCSVColumns(header []string) (map[string]int, error) {
	columns := make(map[string]int)
	for i, raw := range header {
		name := strings.TrimSpace(raw)
		for field, spellings := range csvColumns {
			if _, taken := columns[field]; taken {
				continue
			}
			for _, spelling := range spellings {
				if strings.EqualFold(name, spelling) {
					columns[field] = i
					break
				}
			}
		}
	}

	if _, ok := columns["client_id"]; !ok {
		if _, ok := columns["email"]; !ok {
			return nil, fmt.Errorf("CSV has no client id or email column")
		}
	}
	if _, ok := columns["class_date"]; !ok {
		return nil, fmt.Errorf("CSV has no class date column")
	}
	return columns, nil
}

func parseCSVDateTime(dateCell, timeCell string) (time.Time, bool) {
	var date time.Time
	parsed := false
	for _, format := range csvDateFormats {
		if t, err := time.Parse(format, dateCell); err == nil {
			date = t
			parsed = true
			break
		}
	}
	if !parsed {
		// Some exports put a full timestamp in the date column.
		if t, ok := parseProviderTime(dateCell); ok {
			return t, true
		}
		return time.Time{}, false
	}

	if timeCell == "" {
		return date, true
	}
	for _, format := range csvTimeFormats {
		if t, err := time.Parse(format, strings.ToUpper(timeCell)); err == nil {
			return time.Date(date.Year(), date.Month(), date.Day(),
				t.Hour(), t.Minute(), t.Second(), 0, time.UTC), true
		}
	}
	return date, true
}

func csvStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "signed in", "signedin", "signed_in":
		return "signed_in"
	case "absent", "no show", "noshow":
		return "absent"
	case "late cancel", "late cancelled", "latecancelled":
		return "late_cancelled"
	case "early cancel", "early cancelled", "earlycancelled":
		return "early_cancelled"
	default:
		return "attended"
	}
}
