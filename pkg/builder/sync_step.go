// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package builder

import (
	"context"
	"errors"
	"fmt"

	"github.com/davecgh/go-spew/spew"

	"github.com/facebookincubator/buildsync/pkg/cerrors"
	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/logging"
	"github.com/facebookincubator/buildsync/pkg/stats"
	"github.com/facebookincubator/buildsync/pkg/storage"
)

// BuildResults maps every result the executor reports for a completed build.
// UNSTABLE builds completed with failing tests.
var BuildResults = map[string]job.Result{
	"SUCCESS":    job.ResultPassed,
	"ABORTED":    job.ResultAborted,
	"FAILURE":    job.ResultFailed,
	"REGRESSION": job.ResultFailed,
	"UNSTABLE":   job.ResultFailed,
}

// BuildResult maps the result of a completed build.
func BuildResult(result *string) (job.Result, error) {
	if result == nil {
		return job.ResultUnknown, &cerrors.InvalidResultError{Kind: "build result", Value: ""}
	}
	r, ok := BuildResults[*result]
	if !ok {
		return job.ResultUnknown, &cerrors.InvalidResultError{Kind: "build result", Value: *result}
	}
	return r, nil
}

// SyncStep mirrors the executor build of step. Status, phase and artifacts
// are required to succeed. Test results and the console log are best effort:
// their failures are logged and do not fail the synchronization.
func (b *Builder) SyncStep(ctx context.Context, step *job.Step) error {
	jobName, buildNo := step.Data.JobName, step.Data.BuildNo
	l := logging.AddFields(log, map[string]interface{}{"step_id": step.ID, "job_name": jobName, "build_no": buildNo})

	build, err := b.exec.GetBuild(ctx, jobName, buildNo)
	if errors.Is(err, cerrors.ErrNotFound) {
		return b.failStep(ctx, step, cerrors.Unrecoverable(
			fmt.Sprintf("build %s is gone from the executor", job.StepLabel(jobName, buildNo)), err))
	}
	if err != nil {
		return fmt.Errorf("could not fetch build %s: %w", job.StepLabel(jobName, buildNo), err)
	}

	status, result := job.StatusInProgress, job.ResultUnknown
	if !build.Building {
		status = job.StatusFinished
		if result, err = BuildResult(build.Result); err != nil {
			b.counter.Incr(stats.KeySyncFailure + "invalid_result")
			log.Debugf("unexpected build payload: %s", spew.Sdump(build))
			return fmt.Errorf("could not sync build %s: %w", job.StepLabel(jobName, buildNo), err)
		}
	}

	err = storage.WithTx(b.store, func(s storage.Storage) error {
		if build.BuiltOn != "" {
			node, _, err := s.GetOrCreateNode(ctx, build.BuiltOn)
			if err != nil {
				return fmt.Errorf("could not get node %q: %w", build.BuiltOn, err)
			}
			step.NodeID = node.ID
		}
		if build.FullDisplayName != "" {
			step.Label = build.FullDisplayName
		}
		started := build.StartTime()
		step.DateStarted = &started
		step.Status = status
		step.Result = result
		if status == job.StatusFinished {
			finished := build.FinishTime()
			step.DateFinished = &finished
		}
		return b.saveStepAndPhase(ctx, s, step)
	})
	if err != nil {
		return err
	}
	b.counter.Incr(stats.KeyStepsSynced)
	l.Debugf("Step is %s/%s", step.Status, step.Result)

	j, err := b.store.GetJob(ctx, step.JobID)
	if err != nil {
		return fmt.Errorf("could not load job of step %s: %w", step.ID, err)
	}

	for _, artifact := range build.Artifacts {
		artifact := artifact
		var stored []*job.LogChunk
		err := storage.WithTx(b.store, func(s storage.Storage) error {
			return b.syncArtifact(ctx, s, j, step, artifact, &stored)
		})
		if err != nil {
			return fmt.Errorf("could not sync artifact %q: %w", artifact.RelativePath, err)
		}
		b.publishChunks(ctx, stored)
	}

	err = storage.WithTx(b.store, func(s storage.Storage) error {
		return b.syncTestReport(ctx, s, j, step)
	})
	if err != nil {
		b.counter.Incr(stats.KeySyncFailure + "test_report")
		l.Errorf("Failed to sync test results: %v", err)
	}

	if err := b.syncConsoleLog(ctx, j, step); err != nil {
		b.counter.Incr(stats.KeySyncFailure + "console_log")
		l.Errorf("Unable to sync console log: %v", err)
	}
	return nil
}

// failStep persists step and its phase as failed and returns cause.
func (b *Builder) failStep(ctx context.Context, step *job.Step, cause error) error {
	log.WithField("step_id", step.ID).Errorf("Step failed: %v", cause)
	now := b.clock.Now().UTC()
	step.Status = job.StatusFinished
	step.Result = job.ResultFailed
	if step.DateFinished == nil {
		step.DateFinished = &now
	}
	err := storage.WithTx(b.store, func(s storage.Storage) error {
		return b.saveStepAndPhase(ctx, s, step)
	})
	if err != nil {
		return fmt.Errorf("%w (could not save failed step: %v)", cause, err)
	}
	b.counter.Incr(stats.KeySyncFailure + "step")
	return cause
}

func (b *Builder) saveStepAndPhase(ctx context.Context, s storage.Storage, step *job.Step) error {
	phase, err := s.GetPhase(ctx, step.PhaseID)
	if err != nil {
		return fmt.Errorf("could not load phase of step %s: %w", step.ID, err)
	}
	phase.Apply(step)
	if err := s.SaveStep(ctx, step); err != nil {
		return fmt.Errorf("could not save step %s: %w", step.ID, err)
	}
	if err := s.SavePhase(ctx, phase); err != nil {
		return fmt.Errorf("could not save phase %s: %w", phase.ID, err)
	}
	return nil
}
