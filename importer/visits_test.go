package importer

import (
	"testing"
	"time"

	"github.com/pocketbase/pocketbase/core"
)

func visitAt(start time.Time) map[string]interface{} {
	return map[string]interface{}{
		"StartDateTime": start.Format("2006-01-02T15:04:05"),
	}
}

func TestResolveVisitsDedupesWithinBatch(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	schedules := buildIndex(&scheduleRef{id: "sched1", start: start})
	seen := map[string]*core.Record{}

	// The provider sometimes returns the same visit twice in one window.
	visits := []map[string]interface{}{visitAt(start), visitAt(start)}

	planned, unmatched, malformed := resolveVisits("stu1", visits, schedules, seen)
	if len(planned) != 1 {
		t.Fatalf("planned %d rows for duplicate visits, want 1", len(planned))
	}
	if len(unmatched) != 0 || len(malformed) != 0 {
		t.Errorf("unmatched=%d malformed=%d, want 0/0", len(unmatched), len(malformed))
	}
	if _, ok := seen[planned[0].key]; !ok {
		t.Error("planned key was not added to the dedup map")
	}
}

func TestResolveVisitsSkipsStoredRows(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	schedules := buildIndex(&scheduleRef{id: "sched1", start: start})
	seen := map[string]*core.Record{
		attendanceKey("stu1", "sched1", start): nil,
	}

	planned, _, _ := resolveVisits("stu1", []map[string]interface{}{visitAt(start)}, schedules, seen)
	if len(planned) != 0 {
		t.Fatalf("planned %d rows for an already-stored visit, want 0", len(planned))
	}
}

func TestResolveVisitsBuckets(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	schedules := buildIndex(&scheduleRef{id: "sched1", start: start})
	seen := map[string]*core.Record{}

	visits := []map[string]interface{}{
		visitAt(start),                      // matches
		visitAt(start.Add(2 * time.Hour)),   // no schedule near it
		{"SignedIn": true},                  // missing start time
	}

	planned, unmatched, malformed := resolveVisits("stu1", visits, schedules, seen)
	if len(planned) != 1 {
		t.Errorf("planned = %d, want 1", len(planned))
	}
	if len(unmatched) != 1 {
		t.Errorf("unmatched = %d, want 1", len(unmatched))
	}
	if len(malformed) != 1 {
		t.Errorf("malformed = %d, want 1", len(malformed))
	}
	if planned[0].scheduleID != "sched1" || planned[0].status != "attended" {
		t.Errorf("planned row = %+v", planned[0])
	}
}
