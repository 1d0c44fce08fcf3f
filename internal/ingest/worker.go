// Package ingest onboards people and (re)builds their profile indexes,
// either inline or from the background job queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/applyd/internal/profile"
	"github.com/kalambet/applyd/internal/retrieval"
	"github.com/kalambet/applyd/internal/storage"
)

// JobTypeIndexBuild rebuilds both indexes of one profile.
const JobTypeIndexBuild = "index_build"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// ProfileLoader loads a profile record by index.
type ProfileLoader interface {
	Get(idx int) (profile.Record, error)
}

// IndexBuilder rebuilds a profile's indexes. Implemented by retrieval.Builder.
type IndexBuilder interface {
	Build(ctx context.Context, profileIndex int, rec profile.Record) (retrieval.BuildResult, error)
}

type buildPayload struct {
	ProfileIndex int `json:"profile_index"`
}

// EnqueueBuild queues an index rebuild for profileIndex and returns the job ID.
func EnqueueBuild(store JobStore, profileIndex int) (string, error) {
	payload, err := json.Marshal(buildPayload{ProfileIndex: profileIndex})
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := store.EnqueueJob(storage.Job{
		ID:          id,
		Type:        JobTypeIndexBuild,
		PayloadJSON: string(payload),
	}); err != nil {
		return "", fmt.Errorf("enqueueing index build: %w", err)
	}
	return id, nil
}

// Worker processes index_build jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	profiles ProfileLoader
	builder  IndexBuilder
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, profiles ProfileLoader, builder IndexBuilder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		profiles: profiles,
		builder:  builder,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single index_build job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeIndexBuild})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload buildPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	rec, err := w.profiles.Get(payload.ProfileIndex)
	if err != nil {
		return fmt.Errorf("loading profile %d: %w", payload.ProfileIndex, err)
	}

	if _, err := w.builder.Build(ctx, payload.ProfileIndex, rec); err != nil {
		return fmt.Errorf("building indexes for profile %d: %w", payload.ProfileIndex, err)
	}
	return nil
}
