// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package jobmanager

import (
	"context"
	"fmt"

	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/types"
)

// Submit creates a job building source and submits it to the executor. The
// job is stored before being submitted, so that it is visible even when the
// submission fails.
func (jm *JobManager) Submit(ctx context.Context, projectID types.ID, source job.Source) (*job.Job, error) {
	j := job.New(projectID, source)
	if err := jm.storage.SaveJob(ctx, j); err != nil {
		return nil, fmt.Errorf("could not create job: %w", err)
	}
	log.WithField("job_id", j.Token()).Infof("Submitting job (revision %q, patch: %d bytes)", source.RevisionSHA, len(source.Patch))

	jm.jobsWg.Add(1)
	defer jm.jobsWg.Done()
	if err := jm.syncer.CreateJob(ctx, j); err != nil {
		return j, fmt.Errorf("could not submit %s: %w", j, err)
	}
	return j, nil
}
