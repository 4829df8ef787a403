// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package builder

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/buildsync/pkg/cerrors"
	"github.com/facebookincubator/buildsync/pkg/config"
	"github.com/facebookincubator/buildsync/pkg/executor"
	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/storage"
	"github.com/facebookincubator/buildsync/pkg/testreport"
	"github.com/facebookincubator/buildsync/pkg/types"
	"github.com/facebookincubator/buildsync/plugins/storage/memory"
)

// fakeExecutor serves canned answers. Missing entries are reported as not
// found.
type fakeExecutor struct {
	lock sync.Mutex

	triggered  []executor.TriggerRequest
	queueCalls int

	// queue is called with the number of the ListQueue call, starting at 1
	queue      func(call int) (*executor.Queue, error)
	builds     *executor.BuildList
	queueItems map[string]*executor.QueueItem
	build      map[int]*executor.Build
	// console is called for every console log request
	console   func(offset int64) (*executor.ConsoleLog, error)
	artifacts map[string]string
	report    *testreport.Report
	reportErr error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		queueItems: map[string]*executor.QueueItem{},
		build:      map[int]*executor.Build{},
		artifacts:  map[string]string{},
	}
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, cerrors.ErrNotFound)
}

func (f *fakeExecutor) TriggerBuild(_ context.Context, req executor.TriggerRequest) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.triggered = append(f.triggered, req)
	return nil
}

func (f *fakeExecutor) ListQueue(context.Context) (*executor.Queue, error) {
	f.lock.Lock()
	f.queueCalls++
	call := f.queueCalls
	f.lock.Unlock()
	if f.queue == nil {
		return &executor.Queue{}, nil
	}
	return f.queue(call)
}

func (f *fakeExecutor) ListBuilds(_ context.Context, jobName string) (*executor.BuildList, error) {
	if f.builds == nil {
		return nil, notFound("job " + jobName)
	}
	return f.builds, nil
}

func (f *fakeExecutor) GetQueueItem(_ context.Context, itemID string) (*executor.QueueItem, error) {
	item, ok := f.queueItems[itemID]
	if !ok {
		return nil, notFound("queue item " + itemID)
	}
	return item, nil
}

func (f *fakeExecutor) GetBuild(_ context.Context, jobName string, buildNo int) (*executor.Build, error) {
	build, ok := f.build[buildNo]
	if !ok {
		return nil, notFound(job.StepLabel(jobName, buildNo))
	}
	return build, nil
}

func (f *fakeExecutor) GetConsoleLog(_ context.Context, _ string, _ int, offset int64) (*executor.ConsoleLog, error) {
	if f.console == nil {
		return consoleLog("", offset, false), nil
	}
	return f.console(offset)
}

func (f *fakeExecutor) GetArtifact(_ context.Context, _ string, _ int, relativePath string) (io.ReadCloser, error) {
	content, ok := f.artifacts[relativePath]
	if !ok {
		return nil, notFound("artifact " + relativePath)
	}
	return ioutil.NopCloser(strings.NewReader(content)), nil
}

func (f *fakeExecutor) GetTestReport(context.Context, string, int) (*testreport.Report, error) {
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	if f.report == nil {
		return nil, notFound("test report")
	}
	return f.report, nil
}

// consoleLog returns the part of text starting at offset.
func consoleLog(text string, offset int64, more bool) *executor.ConsoleLog {
	body := ""
	if offset <= int64(len(text)) {
		body = text[offset:]
	}
	return &executor.ConsoleLog{
		Body:     ioutil.NopCloser(strings.NewReader(body)),
		TextSize: int64(len(text)),
		MoreData: more,
	}
}

// recordingEnqueuer records the enqueued steps.
type recordingEnqueuer struct {
	lock  sync.Mutex
	steps []types.ID
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, stepID types.ID) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.steps = append(r.steps, stepID)
	return nil
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Executor.BaseURL = "http://executor.example.com"
	cfg.Executor.JobName = "server"
	return cfg
}

func newTestStorage(t *testing.T) storage.TransactionalStorage {
	stor, err := memory.New()
	require.NoError(t, err)
	return stor
}

// createActiveStep stores a job with a build number, along with its phase
// and step, the way SyncJob does.
func createActiveStep(t *testing.T, b *Builder, buildNo int) (*job.Job, *job.Step) {
	ctx := context.Background()
	enq := &recordingEnqueuer{}
	b.enqueuer = enq

	j := job.New(types.NewID(), job.Source{})
	j.Status = job.StatusInProgress
	j.Data = job.Data{JobName: "server", BuildNo: buildNo}
	require.NoError(t, b.store.SaveJob(ctx, j))
	require.NoError(t, b.SyncJob(ctx, j))
	require.Len(t, enq.steps, 1)

	step, err := b.store.GetStep(ctx, enq.steps[0])
	require.NoError(t, err)
	return j, step
}
