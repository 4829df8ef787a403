// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package builder

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/facebookincubator/buildsync/pkg/cerrors"
	"github.com/facebookincubator/buildsync/pkg/job"
)

// TokenParameter is the build parameter carrying the correlation token of a
// job.
const TokenParameter = "CHANGES_BID"

// FindJob looks for the executor unit submitted with the given token. The
// queue is checked before the builds: a submission moving from the queue to
// the builds between the two checks is then still seen in the builds.
//
// A nil Data and a nil error means no match was found.
func (b *Builder) FindJob(ctx context.Context, jobName, token string) (*job.Data, error) {
	data, err := b.findJobInQueue(ctx, jobName, token)
	if err != nil || data != nil {
		return data, err
	}
	return b.findJobInBuilds(ctx, jobName, token)
}

func (b *Builder) findJobInQueue(ctx context.Context, jobName, token string) (*job.Data, error) {
	queue, err := b.exec.ListQueue(ctx)
	if errors.Is(err, cerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not list the executor queue: %w", err)
	}
	for _, item := range queue.Items {
		if !item.Actions.HasParameter(TokenParameter, token) {
			continue
		}
		log.Debugf("Found queue item %d for token %s", item.ID, token)
		return &job.Data{
			JobName: jobName,
			Queued:  true,
			ItemID:  strconv.Itoa(item.ID),
		}, nil
	}
	return nil, nil
}

func (b *Builder) findJobInBuilds(ctx context.Context, jobName, token string) (*job.Data, error) {
	builds, err := b.exec.ListBuilds(ctx, jobName)
	if errors.Is(err, cerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not list the builds of %s: %w", jobName, err)
	}
	for _, build := range builds.Builds {
		if !build.Actions.HasParameter(TokenParameter, token) {
			continue
		}
		log.Debugf("Found build %s #%d for token %s", jobName, build.Number, token)
		return &job.Data{
			JobName: jobName,
			Queued:  false,
			BuildNo: build.Number,
		}, nil
	}
	return nil, nil
}
