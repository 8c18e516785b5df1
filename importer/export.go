package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pocketbase/dbx"
	"google.golang.org/api/sheets/v4"
)

// SheetsWriter is the subset of the Sheets API the metrics export uses.
// An interface so tests can capture writes without network access.
type SheetsWriter interface {
	WriteToSheet(ctx context.Context, spreadsheetID, sheetTab string, data [][]interface{}) error
	ClearSheet(ctx context.Context, spreadsheetID, sheetTab string) error
}

// RealSheetsWriter implements SheetsWriter against the Google Sheets API.
type RealSheetsWriter struct {
	service *sheets.Service
}

func NewRealSheetsWriter(service *sheets.Service) *RealSheetsWriter {
	return &RealSheetsWriter{service: service}
}

func (w *RealSheetsWriter) WriteToSheet(ctx context.Context, spreadsheetID, sheetTab string, data [][]interface{}) error {
	valueRange := &sheets.ValueRange{Values: data}
	_, err := w.service.Spreadsheets.Values.Update(
		spreadsheetID,
		sheetTab+"!A1",
		valueRange,
	).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (w *RealSheetsWriter) ClearSheet(ctx context.Context, spreadsheetID, sheetTab string) error {
	_, err := w.service.Spreadsheets.Values.Clear(
		spreadsheetID,
		sheetTab+"!A:Z",
		&sheets.ClearValuesRequest{},
	).Context(ctx).Do()
	return err
}

const (
	tabAttendance = "Attendance"
	tabRevenue    = "Revenue"
)

// ExportAttendanceCSV streams the organization's attendance within the date
// range as CSV, joined with student and class names.
func (imp *Importer) ExportAttendanceCSV(w io.Writer, start, end time.Time) error {
	records, err := imp.app.FindRecordsByFilter(
		"attendance",
		"organization = {:org} && date >= {:start} && date <= {:end}",
		"date", 0, 0,
		dbx.Params{"org": imp.orgID, "start": storedTime(start), "end": storedTime(end)},
	)
	if err != nil {
		return fmt.Errorf("loading attendance: %w", err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Date", "Student", "Email", "Class", "Status", "Source"}); err != nil {
		return err
	}

	for _, record := range records {
		studentName, email := "", ""
		if student, err := imp.app.FindRecordById("students", record.GetString("student")); err == nil {
			studentName = student.GetString("first_name") + " " + student.GetString("last_name")
			email = student.GetString("email")
		}

		className := ""
		if schedule, err := imp.app.FindRecordById("class_schedules", record.GetString("schedule")); err == nil {
			if class, err := imp.app.FindRecordById("classes", schedule.GetString("class")); err == nil {
				className = class.GetString("name")
			}
		}

		row := []string{
			record.GetDateTime("date").Time().Format("2006-01-02 15:04"),
			studentName,
			email,
			className,
			record.GetString("status"),
			record.GetString("source"),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// ExportMetricsToSheets writes per-class attendance counts and per-month
// revenue totals to the configured spreadsheet.
func (imp *Importer) ExportMetricsToSheets(ctx context.Context, writer SheetsWriter, spreadsheetID string) error {
	attendanceRows, err := imp.attendanceByClass()
	if err != nil {
		return err
	}
	revenueRows, err := imp.revenueByMonth()
	if err != nil {
		return err
	}

	if err := writer.ClearSheet(ctx, spreadsheetID, tabAttendance); err != nil {
		return fmt.Errorf("clearing attendance tab: %w", err)
	}
	if err := writer.WriteToSheet(ctx, spreadsheetID, tabAttendance, attendanceRows); err != nil {
		return fmt.Errorf("writing attendance tab: %w", err)
	}

	if err := writer.ClearSheet(ctx, spreadsheetID, tabRevenue); err != nil {
		return fmt.Errorf("clearing revenue tab: %w", err)
	}
	if err := writer.WriteToSheet(ctx, spreadsheetID, tabRevenue, revenueRows); err != nil {
		return fmt.Errorf("writing revenue tab: %w", err)
	}

	return nil
}

func (imp *Importer) attendanceByClass() ([][]interface{}, error) {
	filter, params := byOrganization(imp.orgID)
	records, err := imp.app.FindRecordsByFilter("attendance", filter, "", 0, 0, params)
	if err != nil {
		return nil, fmt.Errorf("loading attendance: %w", err)
	}

	classNames := make(map[string]string)
	counts := make(map[string]int)
	for _, record := range records {
		scheduleID := record.GetString("schedule")
		name, ok := classNames[scheduleID]
		if !ok {
			name = "(unknown)"
			if schedule, err := imp.app.FindRecordById("class_schedules", scheduleID); err == nil {
				if class, err := imp.app.FindRecordById("classes", schedule.GetString("class")); err == nil {
					name = class.GetString("name")
				}
			}
			classNames[scheduleID] = name
		}
		counts[name]++
	}

	rows := [][]interface{}{{"Class", "Attendance Count"}}
	for _, name := range sortedKeys(counts) {
		rows = append(rows, []interface{}{name, counts[name]})
	}
	return rows, nil
}

func (imp *Importer) revenueByMonth() ([][]interface{}, error) {
	filter, params := byOrganization(imp.orgID)
	records, err := imp.app.FindRecordsByFilter("revenue", filter, "", 0, 0, params)
	if err != nil {
		return nil, fmt.Errorf("loading revenue: %w", err)
	}

	totals := make(map[string]float64)
	for _, record := range records {
		saleDate := record.GetDateTime("sale_date").Time()
		if saleDate.IsZero() {
			continue
		}
		totals[saleDate.Format("2006-01")] += record.GetFloat("amount")
	}

	months := make([]string, 0, len(totals))
	for month := range totals {
		months = append(months, month)
	}
	sort.Strings(months)

	rows := [][]interface{}{{"Month", "Revenue"}}
	for _, month := range months {
		rows = append(rows, []interface{}{month, totals[month]})
	}
	return rows, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
