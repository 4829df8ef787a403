// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package builder mirrors the state of executor builds into storage. It
// submits jobs, follows them through the executor queue and replicates the
// outcome of their builds: status, logs, artifacts and test results.
package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/insomniacslk/xjson"

	"github.com/facebookincubator/buildsync/pkg/config"
	"github.com/facebookincubator/buildsync/pkg/event"
	"github.com/facebookincubator/buildsync/pkg/executor"
	"github.com/facebookincubator/buildsync/pkg/logging"
	"github.com/facebookincubator/buildsync/pkg/stats"
	"github.com/facebookincubator/buildsync/pkg/storage"
	"github.com/facebookincubator/buildsync/pkg/tasks"
	"github.com/facebookincubator/buildsync/pkg/types"
)

var log = logging.GetLogger("pkg/builder")

// Builder is the synchronization engine. CreateJob, SyncJob and SyncStep are
// safe to call concurrently for different jobs and steps.
type Builder struct {
	jobName string
	sync    config.Sync

	locateInterval time.Duration
	locateTimeout  time.Duration
	logSyncTimeout time.Duration

	exec      executor.Executor
	store     storage.Storage
	clock     clock.Clock
	publisher event.Publisher
	enqueuer  tasks.Enqueuer
	counter   stats.Counter
}

// Opt is a function type that sets parameters on the Builder object
type Opt func(b *Builder)

// Clock sets the clock used by the polling loops.
func Clock(c clock.Clock) Opt {
	return func(b *Builder) {
		b.clock = c
	}
}

// Publisher sets the publisher notified of every stored log chunk.
func Publisher(p event.Publisher) Opt {
	return func(b *Builder) {
		b.publisher = p
	}
}

// Enqueuer sets where step synchronizations are deferred to. By default
// steps are synchronized right away.
func Enqueuer(e tasks.Enqueuer) Opt {
	return func(b *Builder) {
		b.enqueuer = e
	}
}

// Counter sets the stats counter.
func Counter(c stats.Counter) Opt {
	return func(b *Builder) {
		b.counter = c
	}
}

// New returns a Builder submitting builds of cfg.Executor.JobName.
func New(cfg config.Config, exec executor.Executor, store storage.Storage, opts ...Opt) (*Builder, error) {
	if exec == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if store == nil {
		return nil, errors.New("storage cannot be nil")
	}
	b := &Builder{
		jobName:        cfg.Executor.JobName,
		sync:           cfg.Sync,
		locateInterval: durationOr(cfg.Sync.LocateInterval, config.DefaultLocateInterval),
		locateTimeout:  durationOr(cfg.Sync.LocateTimeout, config.DefaultLocateTimeout),
		logSyncTimeout: durationOr(cfg.Sync.LogSyncTimeout, config.DefaultLogSyncTimeout),
		exec:           exec,
		store:          store,
		clock:          clock.New(),
		publisher:      event.Nop{},
		counter:        stats.Nop{},
	}
	if b.sync.LogChunkSize <= 0 {
		b.sync.LogChunkSize = config.DefaultLogChunkSize
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.enqueuer == nil {
		b.enqueuer = tasks.EnqueuerFunc(b.SyncStepByID)
	}
	return b, nil
}

// SyncStepByID loads a step and synchronizes it. It is the handler of the
// step task queue.
func (b *Builder) SyncStepByID(ctx context.Context, stepID types.ID) error {
	step, err := b.store.GetStep(ctx, stepID)
	if err != nil {
		return fmt.Errorf("could not load step %s: %w", stepID, err)
	}
	return b.SyncStep(ctx, step)
}

func durationOr(d xjson.Duration, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return time.Duration(d)
}
