// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package executor talks to the CI executor over its polling JSON API.
package executor

import (
	"context"
	"io"

	"github.com/facebookincubator/buildsync/pkg/testreport"
)

// Executor is the set of executor calls the synchronization engine relies
// on. Lookups of a specific entity return an error wrapping
// cerrors.ErrNotFound when the executor answers 404, other non-2xx answers
// are reported as *cerrors.HTTPError.
type Executor interface {
	// TriggerBuild submits a build. The executor does not return any
	// identifier for the submission.
	TriggerBuild(ctx context.Context, req TriggerRequest) error
	// ListQueue returns the items currently in the build queue.
	ListQueue(ctx context.Context) (*Queue, error)
	// ListBuilds returns the builds of a job, including their parameters.
	ListBuilds(ctx context.Context, jobName string) (*BuildList, error)
	GetQueueItem(ctx context.Context, itemID string) (*QueueItem, error)
	GetBuild(ctx context.Context, jobName string, buildNo int) (*Build, error)
	// GetConsoleLog returns the console output of a build from the given
	// offset on.
	GetConsoleLog(ctx context.Context, jobName string, buildNo int, offset int64) (*ConsoleLog, error)
	// GetArtifact returns the content of an archived file. The caller must
	// close it.
	GetArtifact(ctx context.Context, jobName string, buildNo int, relativePath string) (io.ReadCloser, error)
	GetTestReport(ctx context.Context, jobName string, buildNo int) (*testreport.Report, error)
}
