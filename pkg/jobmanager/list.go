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
)

// List returns the jobs in one of the given statuses, or all the jobs if no
// status is given.
func (jm *JobManager) List(ctx context.Context, statuses ...job.Status) ([]*job.Job, error) {
	return jm.listJobs(ctx, statuses...)
}

func (jm *JobManager) listJobs(ctx context.Context, statuses ...job.Status) ([]*job.Job, error) {
	var fields []storage.JobQueryField
	if len(statuses) > 0 {
		fields = append(fields, storage.QueryStatuses(statuses...))
	}
	query, err := storage.BuildJobQuery(fields...)
	if err != nil {
		return nil, err
	}
	jobs, err := jm.storage.ListJobs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func (jm *JobManager) listSteps(ctx context.Context, statuses ...job.Status) ([]*job.Step, error) {
	query, err := storage.BuildStepQuery(storage.QueryStatuses(statuses...))
	if err != nil {
		return nil, err
	}
	steps, err := jm.storage.ListSteps(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	return steps, nil
}
