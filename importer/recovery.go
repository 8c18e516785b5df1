package importer

import (
	"fmt"
	"log/slog"
)

// RecoverOrphanJobs fails any job still marked running at startup. A running
// status after boot can only mean the process died mid-import; the job's
// persisted progress survives, so an operator can resume it and continue
// from the last completed batch. Jobs are never auto-resumed, because the
// crash may have been caused by the job itself.
func RecoverOrphanJobs(store JobStore) error {
	orphans, err := store.FindRunning()
	if err != nil {
		return fmt.Errorf("finding orphaned jobs: %w", err)
	}

	for _, job := range orphans {
		job.Status = StatusFailed
		job.Error = "import interrupted by server restart"
		if err := store.Save(job); err != nil {
			return fmt.Errorf("failing orphaned job %s: %w", job.ID, err)
		}
		slog.Warn("Marked orphaned import job as failed", "jobId", job.ID,
			"dataType", job.CurrentDataType, "offset", job.CurrentOffset)
	}

	if len(orphans) > 0 {
		slog.Info("Startup recovery complete", "orphanedJobs", len(orphans))
	}
	return nil
}
