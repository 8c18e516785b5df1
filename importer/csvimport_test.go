package importer

import (
	"testing"
	"time"
)

func TestResolveCSVColumns(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   map[string]int
	}{
		{
			"canonical headers",
			[]string{"Client ID", "Email", "Class Name", "Class Date", "Class Time", "Status"},
			map[string]int{"client_id": 0, "email": 1, "class_name": 2, "class_date": 3, "class_time": 4, "status": 5},
		},
		{
			"alternate spellings",
			[]string{"Mindbody Id", "Class", "Date", "Start Time"},
			map[string]int{"client_id": 0, "class_name": 1, "class_date": 2, "class_time": 3},
		},
		{
			"case insensitive with padding",
			[]string{" client id ", "EMAIL", "class date"},
			map[string]int{"client_id": 0, "email": 1, "class_date": 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveCSVColumns(tt.header)
			if err != nil {
				t.Fatalf("resolveCSVColumns: %v", err)
			}
			for field, wantIdx := range tt.want {
				if got[field] != wantIdx {
					t.Errorf("%s at column %d, want %d", field, got[field], wantIdx)
				}
			}
		})
	}
}

func TestResolveCSVColumnsMissingRequired(t *testing.T) {
	if _, err := resolveCSVColumns([]string{"Class Date", "Status"}); err == nil {
		t.Error("expected error for CSV with no student identifier column")
	}
	if _, err := resolveCSVColumns([]string{"Client ID", "Status"}); err == nil {
		t.Error("expected error for CSV with no date column")
	}
}

func TestParseCSVDateTime(t *testing.T) {
	tests := []struct {
		date string
		time string
		want time.Time
		ok   bool
	}{
		{"2026-05-01", "09:30", time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC), true},
		{"05/01/2026", "6:15 PM", time.Date(2026, 5, 1, 18, 15, 0, 0, time.UTC), true},
		{"5/1/2026", "", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), true},
		{"2026-05-01T09:30:00", "", time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC), true},
		{"not a date", "09:30", time.Time{}, false},
	}

	for _, tt := range tests {
		got, ok := parseCSVDateTime(tt.date, tt.time)
		if ok != tt.ok {
			t.Errorf("parseCSVDateTime(%q, %q) ok = %v, want %v", tt.date, tt.time, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("parseCSVDateTime(%q, %q) = %v, want %v", tt.date, tt.time, got, tt.want)
		}
	}
}

func TestCSVStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Signed In", "signed_in"},
		{"absent", "absent"},
		{"No Show", "absent"},
		{"Late Cancel", "late_cancelled"},
		{"Early Cancelled", "early_cancelled"},
		{"", "attended"},
		{"Attended", "attended"},
	}
	for _, tt := range tests {
		if got := csvStatus(tt.raw); got != tt.want {
			t.Errorf("csvStatus(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
