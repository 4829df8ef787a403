// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package jobmanager

import (
	"context"
	"fmt"

	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/storage"
	"github.com/facebookincubator/buildsync/pkg/types"
)

// JobStatus is the synchronized state of a job.
type JobStatus struct {
	Job         *job.Job
	Phases      []*job.Phase
	Steps       []*job.Step
	LogSources  []*job.LogSource
	TestResults []*job.TestResult
}

// Status returns the state of a job along with everything synchronized for
// it so far.
func (jm *JobManager) Status(ctx context.Context, jobID types.ID) (*JobStatus, error) {
	j, err := jm.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job %s: %w", jobID, err)
	}
	status := JobStatus{Job: j}

	query, err := storage.BuildStepQuery(storage.QueryJobID(jobID))
	if err != nil {
		return nil, err
	}
	if status.Steps, err = jm.storage.ListSteps(ctx, query); err != nil {
		return nil, fmt.Errorf("could not list steps of job %s: %w", jobID, err)
	}
	seen := make(map[types.ID]bool)
	for _, step := range status.Steps {
		if seen[step.PhaseID] {
			continue
		}
		seen[step.PhaseID] = true
		phase, err := jm.storage.GetPhase(ctx, step.PhaseID)
		if err != nil {
			return nil, fmt.Errorf("could not fetch phase %s: %w", step.PhaseID, err)
		}
		status.Phases = append(status.Phases, phase)
	}

	if status.LogSources, err = jm.storage.ListLogSources(ctx, jobID); err != nil {
		return nil, fmt.Errorf("could not list log sources of job %s: %w", jobID, err)
	}
	if status.TestResults, err = jm.storage.ListTestResults(ctx, jobID); err != nil {
		return nil, fmt.Errorf("could not list test results of job %s: %w", jobID, err)
	}
	return &status, nil
}

// LogChunks returns the chunks of a log source ending after fromOffset.
func (jm *JobManager) LogChunks(ctx context.Context, sourceID types.ID, fromOffset int64) ([]*job.LogChunk, error) {
	if _, err := jm.storage.GetLogSource(ctx, sourceID); err != nil {
		return nil, fmt.Errorf("failed to fetch log source %s: %w", sourceID, err)
	}
	return jm.storage.ListLogChunks(ctx, sourceID, fromOffset)
}
