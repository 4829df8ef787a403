// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package storage

import (
	"context"
	"fmt"

	"github.com/facebookincubator/buildsync/pkg/config"
	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/types"
)

// Storage defines the interface that storage engines must implement. Lookups
// of missing entities return an error wrapping cerrors.ErrNotFound.
//
// The GetOrCreate methods look an entity up by its natural identity and
// create it from the given defaults when it does not exist yet. The returned
// bool is true if the entity was created. Concurrent calls with the same key
// converge on a single entity.
type Storage interface {
	JobStorage
	StepStorage
	LogStorage
	TestStorage

	// Version returns the version of the storage being used
	Version() (uint64, error)
	Close() error
}

// JobStorage persists jobs.
type JobStorage interface {
	GetJob(ctx context.Context, jobID types.ID) (*job.Job, error)
	// SaveJob inserts or updates a job by ID.
	SaveJob(ctx context.Context, j *job.Job) error
	ListJobs(ctx context.Context, query *JobQuery) ([]*job.Job, error)
}

// StepStorage persists phases, steps and nodes.
type StepStorage interface {
	GetOrCreatePhase(ctx context.Context, key job.PhaseKey, defaults job.Phase) (*job.Phase, bool, error)
	GetPhase(ctx context.Context, phaseID types.ID) (*job.Phase, error)
	SavePhase(ctx context.Context, phase *job.Phase) error

	GetOrCreateStep(ctx context.Context, key job.StepKey, defaults job.Step) (*job.Step, bool, error)
	GetStep(ctx context.Context, stepID types.ID) (*job.Step, error)
	SaveStep(ctx context.Context, step *job.Step) error
	ListSteps(ctx context.Context, query *StepQuery) ([]*job.Step, error)

	GetOrCreateNode(ctx context.Context, label string) (*job.Node, bool, error)
}

// LogStorage persists log sources and their chunks.
type LogStorage interface {
	GetOrCreateLogSource(ctx context.Context, key job.LogSourceKey, defaults job.LogSource) (*job.LogSource, bool, error)
	GetLogSource(ctx context.Context, sourceID types.ID) (*job.LogSource, error)
	ListLogSources(ctx context.Context, jobID types.ID) ([]*job.LogSource, error)
	// UpsertLogChunk creates or updates the chunk with the same (source,
	// offset). The stored chunk is returned.
	UpsertLogChunk(ctx context.Context, chunk job.LogChunk) (*job.LogChunk, error)
	// ListLogChunks returns the chunks of a source ending after fromOffset,
	// in offset order.
	ListLogChunks(ctx context.Context, sourceID types.ID, fromOffset int64) ([]*job.LogChunk, error)
}

// TestStorage persists test suites and results.
type TestStorage interface {
	GetOrCreateTestSuite(ctx context.Context, key job.TestSuiteKey, defaults job.TestSuite) (*job.TestSuite, bool, error)
	GetOrCreateAggregateTestSuite(ctx context.Context, key job.AggregateTestSuiteKey, defaults job.AggregateTestSuite) (*job.AggregateTestSuite, bool, error)
	// SaveTestResults stores a batch of results. Either all or none of them
	// are stored.
	SaveTestResults(ctx context.Context, results []*job.TestResult) error
	ListTestResults(ctx context.Context, jobID types.ID) ([]*job.TestResult, error)
}

// TransactionalStorage is implemented by storage backends that support transactions.
// Only default isolation level is supported. Calling BeginTx on a transaction
// opens a nested transaction, which can be rolled back without affecting
// its parent.
type TransactionalStorage interface {
	Storage
	BeginTx() (TransactionalStorage, error)
	Commit() error
	Rollback() error
}

// ResettableStorage is implemented by storage engines that support reset operation
type ResettableStorage interface {
	Storage
	Reset() error
}

// CheckVersion verifies that the storage engine is recent enough.
func CheckVersion(storageEngine Storage) error {
	if storageEngine == nil {
		return fmt.Errorf("cannot configure a nil storage engine")
	}
	v, err := storageEngine.Version()
	if err != nil {
		return fmt.Errorf("could not determine storage version: %w", err)
	}
	if v < config.MinStorageVersion {
		return fmt.Errorf("could not configure storage of type %T (minimum storage version: %d, current storage version: %d)", storageEngine, config.MinStorageVersion, v)
	}
	return nil
}

// WithTx runs f in a transaction when s supports transactions, and directly
// on s otherwise. The transaction is committed if f succeeds and rolled back
// otherwise.
func WithTx(s Storage, f func(s Storage) error) error {
	ts, ok := s.(TransactionalStorage)
	if !ok {
		return f(s)
	}
	tx, err := ts.BeginTx()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}
