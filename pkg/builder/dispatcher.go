// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package builder

import (
	"context"
	"fmt"

	"github.com/facebookincubator/buildsync/pkg/cerrors"
	"github.com/facebookincubator/buildsync/pkg/executor"
	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/logging"
	"github.com/facebookincubator/buildsync/pkg/stats"
)

// Build parameters set on every submission.
const (
	RevisionParameter = "REVISION"
	PatchParameter    = "PATCH"
	patchField        = "patch"
)

// CreateJob submits j to the executor and waits until the submission can be
// located. The located queue item or build is recorded on the job, which is
// then persisted as queued or in progress.
//
// Unrecoverable failures are returned as errors matching
// cerrors.ErrUnrecoverable, and the job is persisted as failed.
func (b *Builder) CreateJob(ctx context.Context, j *job.Job) error {
	l := logging.AddFields(log, map[string]interface{}{"job_id": j.Token(), "job_name": b.jobName})
	if b.jobName == "" {
		return b.failJob(ctx, j, cerrors.Unrecoverable("missing executor job name configuration", nil))
	}

	req := executor.TriggerRequest{
		JobName: b.jobName,
		Parameters: []executor.BuildParameter{
			{Name: TokenParameter, Value: j.Token()},
		},
	}
	if j.Source.RevisionSHA != "" {
		req.Parameters = append(req.Parameters, executor.BuildParameter{Name: RevisionParameter, Value: j.Source.RevisionSHA})
	}
	if len(j.Source.Patch) > 0 {
		req.Parameters = append(req.Parameters, executor.BuildParameter{Name: PatchParameter, File: patchField})
		req.Files = map[string][]byte{patchField: j.Source.Patch}
	}
	if err := b.exec.TriggerBuild(ctx, req); err != nil {
		return fmt.Errorf("could not submit %s: %w", j, err)
	}
	l.Debugf("Build submitted, locating it")

	// the executor gives no consistency guarantees, the submission may take
	// a while to show up
	var (
		data     *job.Data
		err      error
		deadline = b.clock.Now().Add(b.locateTimeout)
	)
	for b.clock.Now().Before(deadline) {
		data, err = b.FindJob(ctx, b.jobName, j.Token())
		if err != nil {
			return fmt.Errorf("could not locate %s: %w", j, err)
		}
		if data != nil {
			break
		}
		t := b.clock.Timer(b.locateInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	if data == nil {
		return b.failJob(ctx, j, cerrors.Unrecoverable("unable to find matching job after creation", nil))
	}

	j.Data = *data
	if data.Queued {
		j.Status = job.StatusQueued
	} else {
		j.Status = job.StatusInProgress
		b.markStarted(j)
	}
	if err := b.store.SaveJob(ctx, j); err != nil {
		return fmt.Errorf("could not save %s: %w", j, err)
	}
	b.counter.Incr(stats.KeyJobsCreated)
	l.Infof("Job located: queued=%t item=%q build=%d", data.Queued, data.ItemID, data.BuildNo)
	return nil
}

// failJob persists j as failed and returns cause.
func (b *Builder) failJob(ctx context.Context, j *job.Job, cause error) error {
	log.WithField("job_id", j.Token()).Errorf("Could not create job: %v", cause)
	j.Finish(job.ResultFailed, b.clock.Now().UTC())
	if err := b.store.SaveJob(ctx, j); err != nil {
		return fmt.Errorf("%w (could not save failed job: %v)", cause, err)
	}
	b.counter.Incr(stats.KeySyncFailure + "job")
	return cause
}

func (b *Builder) markStarted(j *job.Job) {
	if j.DateStarted == nil {
		now := b.clock.Now().UTC()
		j.DateStarted = &now
	}
}
