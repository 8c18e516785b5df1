package importer

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestOrderedDataTypes(t *testing.T) {
	tests := []struct {
		name      string
		requested []string
		want      []string
	}{
		{"empty", nil, nil},
		{"single", []string{DataTypeVisits}, []string{DataTypeVisits}},
		{
			"reordered to fixed order",
			[]string{DataTypeSales, DataTypeClients, DataTypeVisits},
			[]string{DataTypeClients, DataTypeVisits, DataTypeSales},
		},
		{
			"duplicates collapse",
			[]string{DataTypeClients, DataTypeClients},
			[]string{DataTypeClients},
		},
		{"unknown ignored", []string{"bogus"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OrderedDataTypes(tt.requested)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("OrderedDataTypes(%v) = %v, want %v", tt.requested, got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []string{StatusCompleted, StatusFailed, StatusCancelled}
	active := []string{StatusPending, StatusRunning, StatusPaused}

	for _, status := range terminal {
		if !IsTerminal(status) {
			t.Errorf("IsTerminal(%s) = false, want true", status)
		}
	}
	for _, status := range active {
		if IsTerminal(status) {
			t.Errorf("IsTerminal(%s) = true, want false", status)
		}
	}
}

func TestProgressRoundTrip(t *testing.T) {
	progress := NewProgress()
	progress.Set(DataTypeClients, PhaseProgress{Current: 400, Total: 1200, Imported: 380, Updated: 20, Completed: false})
	progress.Set(DataTypeSales, PhaseProgress{Current: 3, Imported: 15, Completed: true, Source: SalesSourceLineItems})

	raw, err := json.Marshal(progress)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded := NewProgress()
	if err := json.Unmarshal(raw, decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got := decoded.Get(DataTypeClients); got != progress.Get(DataTypeClients) {
		t.Errorf("clients progress = %+v, want %+v", got, progress.Get(DataTypeClients))
	}
	if got := decoded.Get(DataTypeSales); got.Source != SalesSourceLineItems || !got.Completed {
		t.Errorf("sales progress = %+v, lost source or completion", got)
	}
}

func TestProgressPreservesUnknownKeys(t *testing.T) {
	// A blob written by a newer build with extra top-level keys must
	// survive a read-modify-write cycle by this build.
	blob := `{
		"clients": {"current": 10, "imported": 10, "completed": true},
		"memberships": {"current": 4, "imported": 4, "completed": false},
		"schema_version": 3
	}`

	progress := NewProgress()
	if err := json.Unmarshal([]byte(blob), progress); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	progress.Set(DataTypeClients, PhaseProgress{Current: 20, Imported: 20, Completed: true})

	raw, err := json.Marshal(progress)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("re-decode: %v", err)
	}

	if _, ok := out["memberships"]; !ok {
		t.Error("unknown key memberships was dropped")
	}
	if _, ok := out["schema_version"]; !ok {
		t.Error("unknown key schema_version was dropped")
	}

	var clients PhaseProgress
	if err := json.Unmarshal(out["clients"], &clients); err != nil {
		t.Fatalf("decode clients: %v", err)
	}
	if clients.Current != 20 {
		t.Errorf("clients cursor = %d, want the updated 20", clients.Current)
	}
}

func TestProgressCompleted(t *testing.T) {
	progress := NewProgress()
	if progress.Completed(DataTypeVisits) {
		t.Error("empty progress reports visits completed")
	}
	progress.Set(DataTypeVisits, PhaseProgress{Completed: true})
	if !progress.Completed(DataTypeVisits) {
		t.Error("completed visits phase not reported")
	}
}
