// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package builder

import (
	"context"
	"errors"
	"fmt"

	"github.com/facebookincubator/buildsync/pkg/cerrors"
	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/storage"
)

// SyncJob follows a submitted job through the executor. A queued job is
// looked up in the queue, a job with a build number gets its phase and step
// and the step synchronization is enqueued. A job whose step is finished is
// finished with the result of the step. Finished jobs are left alone.
func (b *Builder) SyncJob(ctx context.Context, j *job.Job) error {
	if j.Status == job.StatusFinished {
		return nil
	}
	if j.Data.Queued {
		return b.syncJobFromQueue(ctx, j)
	}
	return b.syncJobFromActive(ctx, j)
}

func (b *Builder) syncJobFromQueue(ctx context.Context, j *job.Job) error {
	l := log.WithField("job_id", j.Token())
	item, err := b.exec.GetQueueItem(ctx, j.Data.ItemID)
	if errors.Is(err, cerrors.ErrNotFound) {
		l.Warningf("Queue item %s is gone, the executor lost track of the job", j.Data.ItemID)
		j.Finish(job.ResultUnknown, b.clock.Now().UTC())
		return b.saveJob(ctx, j)
	}
	if err != nil {
		return fmt.Errorf("could not fetch queue item %s: %w", j.Data.ItemID, err)
	}

	if item.Executable != nil {
		j.Data.Queued = false
		j.Data.BuildNo = item.Executable.Number
	}

	switch {
	case item.Blocked:
		j.Status = job.StatusQueued
		return b.saveJob(ctx, j)
	case item.Cancelled && j.Data.BuildNo == 0:
		l.Infof("Queue item %s was cancelled", j.Data.ItemID)
		j.Finish(job.ResultAborted, b.clock.Now().UTC())
		return b.saveJob(ctx, j)
	case item.Executable != nil:
		return b.syncJobFromActive(ctx, j)
	}
	return nil
}

func (b *Builder) syncJobFromActive(ctx context.Context, j *job.Job) error {
	if j.Data.BuildNo == 0 {
		return fmt.Errorf("%s has no build number", j)
	}
	jobName := j.Data.JobName
	if jobName == "" {
		jobName = b.jobName
	}

	var step *job.Step
	err := storage.WithTx(b.store, func(s storage.Storage) error {
		if j.Status != job.StatusInProgress && j.Status != job.StatusFinished {
			j.Status = job.StatusInProgress
			b.markStarted(j)
		}
		if err := s.SaveJob(ctx, j); err != nil {
			return fmt.Errorf("could not save %s: %w", j, err)
		}

		now := b.clock.Now().UTC()
		phase, _, err := s.GetOrCreatePhase(ctx, job.PhaseKey{JobID: j.ID, Label: jobName}, job.Phase{
			ProjectID:   j.ProjectID,
			Status:      job.StatusInProgress,
			DateCreated: now,
		})
		if err != nil {
			return fmt.Errorf("could not get phase %q of %s: %w", jobName, j, err)
		}
		// the label of a synced step is the display name of its build
		if step, err = findStep(ctx, s, j, jobName); err != nil {
			return err
		}
		if step != nil {
			return b.finishJobFromStep(ctx, s, j, step)
		}
		label := job.StepLabel(jobName, j.Data.BuildNo)
		var created bool
		step, created, err = s.GetOrCreateStep(ctx, job.StepKey{JobID: j.ID, PhaseID: phase.ID, Label: label}, job.Step{
			ProjectID:   j.ProjectID,
			Status:      job.StatusInProgress,
			Data:        job.StepData{JobName: jobName, BuildNo: j.Data.BuildNo},
			DateCreated: now,
		})
		if err != nil {
			return fmt.Errorf("could not get step %q of %s: %w", label, j, err)
		}
		if created {
			log.WithField("job_id", j.Token()).Debugf("Created step %q", label)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if step.Status == job.StatusFinished {
		return nil
	}
	return b.enqueuer.Enqueue(ctx, step.ID)
}

// finishJobFromStep finishes j once the step of its build is finished.
func (b *Builder) finishJobFromStep(ctx context.Context, s storage.Storage, j *job.Job, step *job.Step) error {
	if step.Status != job.StatusFinished {
		return nil
	}
	when := b.clock.Now().UTC()
	if step.DateFinished != nil {
		when = *step.DateFinished
	}
	j.Finish(step.Result, when)
	if err := s.SaveJob(ctx, j); err != nil {
		return fmt.Errorf("could not save %s: %w", j, err)
	}
	log.WithField("job_id", j.Token()).Infof("Job finished: %s", j.Result)
	return nil
}

// findStep returns the step of the current build of j, if there is one.
func findStep(ctx context.Context, s storage.Storage, j *job.Job, jobName string) (*job.Step, error) {
	query, err := storage.BuildStepQuery(storage.QueryJobID(j.ID))
	if err != nil {
		return nil, err
	}
	steps, err := s.ListSteps(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not list steps of %s: %w", j, err)
	}
	for _, step := range steps {
		if step.Data.JobName == jobName && step.Data.BuildNo == j.Data.BuildNo {
			return step, nil
		}
	}
	return nil, nil
}

func (b *Builder) saveJob(ctx context.Context, j *job.Job) error {
	if err := b.store.SaveJob(ctx, j); err != nil {
		return fmt.Errorf("could not save %s: %w", j, err)
	}
	return nil
}
