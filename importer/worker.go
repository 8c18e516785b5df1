package importer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Worker runs import jobs from an in-process FIFO queue, one at a time.
// Serializing jobs keeps the per-site API rate budget simple; the queue is
// deliberately not persisted because a restart fails orphaned jobs and
// operators resume them explicitly.
type Worker struct {
	store  JobStore
	phases PhaseFactory
	delay  time.Duration

	mu     sync.Mutex
	queue  []string
	active bool
}

func NewWorker(store JobStore, phases PhaseFactory, delay time.Duration) *Worker {
	return &Worker{
		store:  store,
		phases: phases,
		delay:  delay,
	}
}

// Enqueue adds a job to the queue and starts the drain loop if idle.
// Safe to call from request handlers and the scheduler concurrently.
func (w *Worker) Enqueue(jobID string) {
	w.mu.Lock()
	w.queue = append(w.queue, jobID)
	start := !w.active
	if start {
		w.active = true
	}
	w.mu.Unlock()

	if start {
		go w.drain()
	}
}

func (w *Worker) drain() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.active = false
			w.mu.Unlock()
			return
		}
		jobID := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if err := w.processJob(jobID); err != nil {
			slog.Error("Import job failed", "jobId", jobID, "error", err)
		}
	}
}

func (w *Worker) processJob(jobID string) error {
	job, err := w.store.Get(jobID)
	if err != nil {
		return fmt.Errorf("loading job %s: %w", jobID, err)
	}

	// A job paused or cancelled while queued is not started.
	if job.Status != StatusPending {
		slog.Info("Skipping queued job", "jobId", jobID, "status", job.Status)
		return nil
	}

	job.Status = StatusRunning
	job.Error = ""
	if err := w.store.Save(job); err != nil {
		return fmt.Errorf("marking job running: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Import job panicked", "jobId", jobID, "panic", r, "stack", string(debug.Stack()))
			w.failJob(job, fmt.Sprintf("internal error: %v", r))
		}
	}()

	ctx := context.Background()
	phases, err := w.phases(ctx, job)
	if err != nil {
		w.failJob(job, err.Error())
		return err
	}

	slog.Info("Starting import job", "jobId", jobID, "dataTypes", job.DataTypes)

	for _, phase := range phases {
		done, err := w.runPhase(ctx, job, phase)
		if err != nil {
			w.failJob(job, fmt.Sprintf("%s: %v", phase.Name, err))
			return err
		}
		if !done {
			// Paused or cancelled mid-phase; the stored status already
			// says which, and progress is persisted up to the last batch.
			return nil
		}
	}

	job.Status = StatusCompleted
	job.CurrentDataType = ""
	if err := w.store.Save(job); err != nil {
		return fmt.Errorf("marking job completed: %w", err)
	}
	slog.Info("Import job completed", "jobId", jobID)
	return nil
}

// runPhase runs one phase batch-by-batch. It returns false without error
// when the job was paused or cancelled between batches.
func (w *Worker) runPhase(ctx context.Context, job *Job, phase Phase) (bool, error) {
	prog := job.Progress.Get(phase.Name)
	if prog.Completed {
		slog.Info("Phase already complete, skipping", "jobId", job.ID, "phase", phase.Name)
		return true, nil
	}

	job.CurrentDataType = phase.Name

	for {
		// Pause and cancel are polled at batch boundaries only, so a
		// batch's writes are never torn.
		latest, err := w.store.Get(job.ID)
		if err != nil {
			return false, fmt.Errorf("re-reading job: %w", err)
		}
		if latest.Status == StatusPaused || latest.Status == StatusCancelled {
			slog.Info("Stopping job between batches", "jobId", job.ID, "status", latest.Status)
			return false, nil
		}

		result, err := phase.Run(ctx, job, prog)
		if err != nil {
			return false, err
		}

		prog.Current = result.NextCursor
		prog.Imported += result.Imported
		prog.Updated += result.Updated
		prog.Completed = result.Completed
		if result.Total > 0 {
			prog.Total = result.Total
		}
		if result.Source != "" {
			prog.Source = result.Source
		}
		job.Progress.Set(phase.Name, prog)
		job.CurrentOffset = prog.Current

		// Persist progress by merging into a fresh read: a pause or
		// cancel written while the batch ran must not be clobbered.
		latest, err = w.store.Get(job.ID)
		if err != nil {
			return false, fmt.Errorf("re-reading job: %w", err)
		}
		latest.Progress = job.Progress
		latest.CurrentDataType = phase.Name
		latest.CurrentOffset = prog.Current
		if err := w.store.Save(latest); err != nil {
			return false, fmt.Errorf("persisting progress: %w", err)
		}
		if latest.Status == StatusPaused || latest.Status == StatusCancelled {
			slog.Info("Stopping job between batches", "jobId", job.ID, "status", latest.Status)
			return false, nil
		}

		if result.Completed {
			slog.Info("Phase complete", "jobId", job.ID, "phase", phase.Name,
				"imported", prog.Imported, "updated", prog.Updated)
			return true, nil
		}

		if w.delay > 0 {
			time.Sleep(w.delay)
		}
	}
}

func (w *Worker) failJob(job *Job, message string) {
	job.Status = StatusFailed
	job.Error = message
	if err := w.store.Save(job); err != nil {
		slog.Error("Persisting failed job state", "jobId", job.ID, "error", err)
	}
}
