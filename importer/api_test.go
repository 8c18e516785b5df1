package importer

import "testing"

func TestResumeConflict(t *testing.T) {
	paused := &Job{ID: "job1", Status: StatusPaused}

	if resumeConflict(paused, nil) {
		t.Error("resume blocked with no active job")
	}
	if resumeConflict(paused, &Job{ID: "job1", Status: StatusPending}) {
		t.Error("resume blocked by the job itself")
	}
	if !resumeConflict(paused, &Job{ID: "job2", Status: StatusRunning}) {
		t.Error("resume allowed while another job is active")
	}
}

func TestResumeConflictAfterSupersedingJob(t *testing.T) {
	store := newMemStore()

	paused := newTestJob(store, DataTypeClients)
	store.setStatus(paused.ID, StatusPaused)

	// A second job for the same organization was created while the first
	// was paused.
	superseding := newTestJob(store, DataTypeClients)

	active, err := store.FindActive(paused.OrganizationID)
	if err != nil {
		t.Fatal(err)
	}
	if !resumeConflict(paused, active) {
		t.Error("paused job resumable while a superseding job is active")
	}
	if active.ID != superseding.ID {
		t.Errorf("active job = %s, want %s", active.ID, superseding.ID)
	}

	// Once the superseding job finishes, the paused one resumes.
	store.setStatus(superseding.ID, StatusCompleted)
	active, err = store.FindActive(paused.OrganizationID)
	if err != nil {
		t.Fatal(err)
	}
	if resumeConflict(paused, active) {
		t.Error("resume still blocked after the superseding job completed")
	}
}
