package importer

import (
	"testing"
)

func TestRecoverOrphanJobsFailsRunning(t *testing.T) {
	store := newMemStore()

	orphan := newTestJob(store, DataTypeClients)
	orphan.Status = StatusRunning
	orphan.CurrentDataType = DataTypeClients
	orphan.CurrentOffset = 600
	orphan.Progress.Set(DataTypeClients, PhaseProgress{Current: 600, Imported: 580})
	if err := store.Save(orphan); err != nil {
		t.Fatal(err)
	}

	if err := RecoverOrphanJobs(store); err != nil {
		t.Fatalf("RecoverOrphanJobs: %v", err)
	}

	recovered, _ := store.Get(orphan.ID)
	if recovered.Status != StatusFailed {
		t.Errorf("status = %s, want %s", recovered.Status, StatusFailed)
	}
	if recovered.Error == "" {
		t.Error("orphaned job has no error message")
	}
	// Progress survives so the job can be resumed from its last batch.
	if got := recovered.Progress.Get(DataTypeClients).Current; got != 600 {
		t.Errorf("progress cursor = %d, want 600", got)
	}
}

func TestRecoverOrphanJobsLeavesOthersAlone(t *testing.T) {
	store := newMemStore()

	statuses := []string{StatusPending, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled}
	ids := make(map[string]string, len(statuses))
	for _, status := range statuses {
		job := newTestJob(store, DataTypeClients)
		job.Status = status
		if err := store.Save(job); err != nil {
			t.Fatal(err)
		}
		ids[status] = job.ID
	}

	if err := RecoverOrphanJobs(store); err != nil {
		t.Fatalf("RecoverOrphanJobs: %v", err)
	}

	for status, id := range ids {
		job, _ := store.Get(id)
		if job.Status != status {
			t.Errorf("%s job changed to %s", status, job.Status)
		}
	}
}

func TestRecoverOrphanJobsNoOrphans(t *testing.T) {
	store := newMemStore()
	if err := RecoverOrphanJobs(store); err != nil {
		t.Fatalf("RecoverOrphanJobs on empty store: %v", err)
	}
}
