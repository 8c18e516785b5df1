package importer

import (
	"context"
)

// BatchResult reports the outcome of one unit of phase work.
type BatchResult struct {
	Imported   int
	Updated    int
	NextCursor int
	Total      int
	Completed  bool
	// Source records which provider endpoint fed the batch, for phases
	// (currently sales) that choose one at runtime.
	Source string
}

// Phase is one resumable stage of an import job. Run performs a single
// bounded batch of work starting at the cursor carried in prog, so the
// worker can persist progress and honor pause or cancel between batches.
type Phase struct {
	Name string
	Run  func(ctx context.Context, job *Job, prog PhaseProgress) (BatchResult, error)
}

// PhaseFactory builds the phase list for a job. Production wires it to
// NewImporter with a provider client built from the organization's
// credentials; tests substitute stub phases.
type PhaseFactory func(ctx context.Context, job *Job) ([]Phase, error)

// Phases returns this importer's phases for the requested data types, in the
// fixed dependency order: visits and sales need the student roster and
// schedules that the earlier phases load.
func (imp *Importer) Phases(dataTypes []string) []Phase {
	available := map[string]Phase{
		DataTypeClients: {
			Name: DataTypeClients,
			Run: func(ctx context.Context, job *Job, prog PhaseProgress) (BatchResult, error) {
				return imp.ImportClientsBatch(ctx, job, prog.Current)
			},
		},
		DataTypeClasses: {
			Name: DataTypeClasses,
			Run: func(ctx context.Context, job *Job, prog PhaseProgress) (BatchResult, error) {
				return imp.ImportClassesBatch(ctx, job, prog.Current)
			},
		},
		DataTypeVisits: {
			Name: DataTypeVisits,
			Run: func(ctx context.Context, job *Job, prog PhaseProgress) (BatchResult, error) {
				return imp.ImportVisitsBatch(ctx, job, prog.Current)
			},
		},
		DataTypeSales: {
			Name: DataTypeSales,
			Run: func(ctx context.Context, job *Job, prog PhaseProgress) (BatchResult, error) {
				return imp.ImportSalesBatch(ctx, job, prog.Current, prog.Source)
			},
		},
	}

	var phases []Phase
	for _, dataType := range OrderedDataTypes(dataTypes) {
		phases = append(phases, available[dataType])
	}
	return phases
}
