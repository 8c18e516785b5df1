package importer

import (
	"fmt"
	"strings"
	"time"
)

// scheduleRef is the subset of a stored class schedule that matching needs.
type scheduleRef struct {
	id        string
	className string
	start     time.Time
}

// scheduleIndexData indexes an organization's schedules by start time for
// visit matching. Exact start-time matches win; otherwise the nearest
// schedule within the tolerance is used.
type scheduleIndexData struct {
	byExact map[time.Time][]*scheduleRef
	all     []*scheduleRef
}

func (imp *Importer) scheduleIndex() (*scheduleIndexData, error) {
	filter, params := byOrganization(imp.orgID)
	records, err := imp.app.FindRecordsByFilter("class_schedules", filter, "", 0, 0, params)
	if err != nil {
		return nil, fmt.Errorf("loading class schedules: %w", err)
	}

	idx := &scheduleIndexData{byExact: make(map[time.Time][]*scheduleRef)}
	for _, record := range records {
		start := record.GetDateTime("start_time").Time()
		if start.IsZero() {
			continue
		}
		ref := &scheduleRef{
			id:    record.Id,
			start: start.UTC(),
		}
		if class := record.GetString("class"); class != "" {
			if classRecord, err := imp.app.FindRecordById("classes", class); err == nil {
				ref.className = classRecord.GetString("name")
			}
		}
		idx.byExact[ref.start] = append(idx.byExact[ref.start], ref)
		idx.all = append(idx.all, ref)
	}
	return idx, nil
}

// match finds the schedule for a visit start time: exact first, then the
// closest schedule within the tolerance window.
func (idx *scheduleIndexData) match(start time.Time) *scheduleRef {
	return idx.matchNamed(start, "")
}

// matchNamed is match constrained to a class name when one is known, as it
// is for CSV rows. The name comparison is case-insensitive.
func (idx *scheduleIndexData) matchNamed(start time.Time, className string) *scheduleRef {
	start = start.UTC()
	for _, ref := range idx.byExact[start] {
		if nameMatches(ref, className) {
			return ref
		}
	}

	var best *scheduleRef
	var bestDelta time.Duration
	for _, ref := range idx.all {
		if !nameMatches(ref, className) {
			continue
		}
		delta := ref.start.Sub(start)
		if delta < 0 {
			delta = -delta
		}
		if delta > scheduleMatchTolerance {
			continue
		}
		if best == nil || delta < bestDelta {
			best = ref
			bestDelta = delta
		}
	}
	return best
}

func nameMatches(ref *scheduleRef, className string) bool {
	if className == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(ref.className), strings.TrimSpace(className))
}
