package importer

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"github.com/kennangle/mbodataanalysis/config"
	"github.com/kennangle/mbodataanalysis/mindbody"
)

// byOrganization builds the tenant-scoping filter with the id bound as a
// parameter, never interpolated: several callers receive the value from
// request input, and a quoted Sprintf would let a crafted id escape into
// the filter expression.
func byOrganization(orgID string) (string, dbx.Params) {
	return "organization = {:org}", dbx.Params{"org": orgID}
}

// Stats accumulates counts across one job run.
type Stats struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Importer carries the per-job context shared by all phase importers: the
// storage handle, the organization scope, and the site's API client.
type Importer struct {
	app      core.App
	client   *mindbody.Client
	settings *config.Settings
	orgID    string
	jobID    string
	stats    Stats
}

// NewImporter creates the phase importer context for one job run.
func NewImporter(app core.App, client *mindbody.Client, settings *config.Settings, job *Job) *Importer {
	return &Importer{
		app:      app,
		client:   client,
		settings: settings,
		orgID:    job.OrganizationID,
		jobID:    job.ID,
	}
}

// NewCSVImporter creates an importer context for paths that never call the
// provider API: CSV uploads and exports.
func NewCSVImporter(app core.App, settings *config.Settings, orgID string) *Importer {
	return &Importer{
		app:      app,
		settings: settings,
		orgID:    orgID,
	}
}

// Stats returns the counts accumulated so far in this run.
func (imp *Importer) Stats() Stats {
	return imp.stats
}

// preloadByField loads every record of an organization-scoped collection
// into a map keyed by one field's string value. Built fresh per batch; the
// tables are tenant-scoped and modest, so a full scan is acceptable and
// keeps the dedup view current across resumes.
func (imp *Importer) preloadByField(collection, field string) (map[string]*core.Record, error) {
	existing := make(map[string]*core.Record)

	filter, params := byOrganization(imp.orgID)
	records, err := imp.app.FindRecordsByFilter(collection, filter, "", 0, 0, params)
	if err != nil {
		return nil, fmt.Errorf("loading existing %s: %w", collection, err)
	}

	for _, record := range records {
		if key := record.GetString(field); key != "" {
			existing[key] = record
		}
	}
	return existing, nil
}

// upsert creates the record when existing is nil, otherwise updates it when
// any field actually changed. Returns whether a row was created or updated.
func (imp *Importer) upsert(collection string, existing *core.Record, data map[string]interface{}) (created, updated bool, err error) {
	if existing != nil {
		needsUpdate := false
		for field, value := range data {
			if !fieldEquals(existing.Get(field), value) {
				needsUpdate = true
				break
			}
		}
		if !needsUpdate {
			imp.stats.Skipped++
			return false, false, nil
		}

		for field, value := range data {
			existing.Set(field, value)
		}
		if err := imp.app.Save(existing); err != nil {
			return false, false, fmt.Errorf("updating %s record: %w", collection, err)
		}
		imp.stats.Updated++
		return false, true, nil
	}

	col, err := imp.app.FindCollectionByNameOrId(collection)
	if err != nil {
		return false, false, fmt.Errorf("finding collection %s: %w", collection, err)
	}

	record := core.NewRecord(col)
	for field, value := range data {
		record.Set(field, value)
	}
	if err := imp.app.Save(record); err != nil {
		return false, false, fmt.Errorf("creating %s record: %w", collection, err)
	}
	imp.stats.Imported++
	return true, false, nil
}

// recordSkip appends a reviewable skipped-record row. Per-record failures
// never abort a batch, but they must stay visible to operators.
func (imp *Importer) recordSkip(dataType, reason string, payload map[string]interface{}) {
	col, err := imp.app.FindCollectionByNameOrId("skipped_records")
	if err != nil {
		slog.Error("Finding skipped_records collection", "error", err)
		return
	}

	record := core.NewRecord(col)
	record.Set("organization", imp.orgID)
	record.Set("job", imp.jobID)
	record.Set("data_type", dataType)
	record.Set("reason", reason)
	record.Set("payload", payload)
	if err := imp.app.Save(record); err != nil {
		slog.Error("Saving skipped record", "dataType", dataType, "error", err)
	}
}

// attendanceKey is the dedup key shared by the API visits importer and the
// CSV fast path: one attendance row per student, schedule, and calendar
// date, regardless of which path imported it first.
func attendanceKey(studentID, scheduleID string, date time.Time) string {
	return fmt.Sprintf("%s|%s|%s", studentID, scheduleID, date.Format("2006-01-02"))
}

// fieldEquals compares a stored field value with an incoming one, tolerating
// the type differences between SQLite reads and fresh Go values.
func fieldEquals(existingValue, newValue interface{}) bool {
	if (existingValue == nil && newValue == "") || (existingValue == "" && newValue == nil) {
		return true
	}
	if (existingValue == nil && newValue == 0) || (existingValue == 0 && newValue == nil) {
		return true
	}

	// Stored datetimes come back as stringers; normalize before comparing.
	if stringer, ok := existingValue.(fmt.Stringer); ok {
		existingValue = stringer.String()
	}

	if existingStr, ok := existingValue.(string); ok {
		if newStr, ok := newValue.(string); ok {
			if looksLikeDateTime(existingStr) && looksLikeDateTime(newStr) {
				return normalizeDateTime(existingStr) == normalizeDateTime(newStr)
			}
			return existingStr == newStr
		}
	}

	// SQLite hands numerics back as float64.
	if existingFloat, ok := existingValue.(float64); ok {
		switch n := newValue.(type) {
		case int:
			return int(existingFloat) == n
		case float64:
			return existingFloat == n
		case bool:
			return (existingFloat != 0) == n
		}
	}
	if existingInt, ok := existingValue.(int); ok {
		switch n := newValue.(type) {
		case int:
			return existingInt == n
		case float64:
			return existingInt == int(n)
		}
	}
	if existingBool, ok := existingValue.(bool); ok {
		switch n := newValue.(type) {
		case bool:
			return existingBool == n
		case float64:
			return existingBool == (n != 0)
		}
	}

	return existingValue == newValue
}

func looksLikeDateTime(s string) bool {
	return strings.Contains(s, "-") && strings.Contains(s, ":")
}

// normalizeDateTime strips fractional seconds, the T separator, the Z
// suffix, and trailing zone offsets so equivalent timestamps compare equal.
func normalizeDateTime(value string) string {
	result := value

	if idx := strings.Index(result, "."); idx != -1 {
		end := idx + 1
		for end < len(result) && result[end] >= '0' && result[end] <= '9' {
			end++
		}
		result = result[:idx] + result[end:]
	}

	result = strings.Replace(result, "T", " ", 1)
	result = strings.TrimSuffix(result, "Z")

	if len(result) > 6 {
		tail := result[len(result)-6:]
		if (tail[0] == '+' || tail[0] == '-') && tail[3] == ':' {
			result = result[:len(result)-6]
		}
	}

	return strings.TrimSpace(result)
}

// parseProviderTime parses the date-time formats Mindbody uses in response
// payloads.
func parseProviderTime(value string) (time.Time, bool) {
	formats := []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// storedTime formats a time the way record datetime fields store it.
func storedTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000Z")
}

func asString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; external ids are integral.
		return fmt.Sprintf("%.0f", v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asFloat(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
