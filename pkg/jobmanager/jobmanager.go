// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package jobmanager drives the synchronization engine: it polls the storage
// for unfinished jobs and steps and hands them to the Builder.
package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/logging"
	"github.com/facebookincubator/buildsync/pkg/storage"
)

var log = logging.GetLogger("pkg/jobmanager")

var cancellationTimeout = 60 * time.Second

// Syncer is the part of the Builder the JobManager drives.
type Syncer interface {
	CreateJob(ctx context.Context, j *job.Job) error
	SyncJob(ctx context.Context, j *job.Job) error
}

// Listener serves an API on top of the JobManager until ctx is done.
type Listener interface {
	Serve(ctx context.Context, jm *JobManager) error
}

// JobManager is the core component of the long-running synchronization
// service.
//
// In more detail, it is responsible for:
// * spawning the API listener
// * submitting new jobs
// * polling unfinished jobs and steps, and scheduling their synchronization
type JobManager struct {
	jmConfig

	syncer  Syncer
	storage storage.Storage

	// polls never overlap
	pollMu sync.Mutex
	jobsWg sync.WaitGroup

	apiListener Listener
}

// New initializes and returns a new JobManager with the given API listener,
// which may be nil.
func New(l Listener, syncer Syncer, s storage.Storage, opts ...Option) (*JobManager, error) {
	if syncer == nil {
		return nil, errors.New("syncer cannot be nil")
	}
	if s == nil {
		return nil, errors.New("storage cannot be nil")
	}
	cfg := getConfig(opts...)
	if cfg.pollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", cfg.pollInterval)
	}
	return &JobManager{
		jmConfig:    cfg,
		syncer:      syncer,
		storage:     s,
		apiListener: l,
	}, nil
}

// Start is responsible for starting the API listener and polling the
// storage. It returns when ctx is done or a signal is received, after the
// running synchronizations returned.
func (jm *JobManager) Start(ctx context.Context, sigs chan os.Signal) error {
	apiCtx, apiCancel := context.WithCancel(ctx)
	defer apiCancel()
	errCh := make(chan error, 1)
	if jm.apiListener != nil {
		go func() {
			lErr := jm.apiListener.Serve(apiCtx, jm)
			log.Debugf("Server shut down successfully.")
			errCh <- lErr
		}()
	}

	ticker := jm.clock.Ticker(jm.pollInterval)
	defer ticker.Stop()
	jm.poll(ctx)

loop:
	for {
		select {
		case <-ticker.C:
			jm.poll(ctx)
		// check for errors or premature termination from the listener.
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("error reported by API listener: %v", err)
			}
			return errors.New("API listener terminated prematurely without errors")
		case <-ctx.Done():
			log.Debugf("Context done: %v", ctx.Err())
			break loop
		case sig := <-sigs:
			log.Debugf("Interrupted by signal '%s': wait for synchronizations and exit", sig)
			break loop
		}
	}
	apiCancel()
	if jm.apiListener != nil {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("API listener terminated with error: %v", err)
			}
		case <-time.After(cancellationTimeout):
			return fmt.Errorf("API listener didn't shut down within %v, exiting", cancellationTimeout)
		}
	}
	jm.jobsWg.Wait()
	return nil
}

func (jm *JobManager) poll(ctx context.Context) {
	jm.jobsWg.Add(1)
	defer jm.jobsWg.Done()
	if err := jm.Poll(ctx); err != nil {
		log.Errorf("Poll failed: %v", err)
	}
}

// Poll synchronizes every unfinished job, then schedules every unfinished
// step. A job failing to synchronize does not prevent the others from being
// synchronized.
func (jm *JobManager) Poll(ctx context.Context) error {
	jm.pollMu.Lock()
	defer jm.pollMu.Unlock()

	jobs, err := jm.listJobs(ctx, job.StatusQueued, job.StatusInProgress)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := jm.syncer.SyncJob(ctx, j); err != nil {
			log.WithField("job_id", j.Token()).Warningf("Could not sync job: %v", err)
		}
	}

	if jm.enqueuer == nil {
		return nil
	}
	steps, err := jm.listSteps(ctx, job.StatusQueued, job.StatusInProgress)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if err := jm.enqueuer.Enqueue(ctx, step.ID); err != nil {
			return fmt.Errorf("could not schedule step %s: %w", step.ID, err)
		}
	}
	log.Debugf("Polled %d jobs and %d steps", len(jobs), len(steps))
	return nil
}
