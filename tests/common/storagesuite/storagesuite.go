// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package storagesuite holds the behaviour every storage engine must show,
// as a testify suite shared by the engines' tests.
package storagesuite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/facebookincubator/buildsync/pkg/cerrors"
	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/storage"
	"github.com/facebookincubator/buildsync/pkg/types"
)

// StorageSuite must be run with Storage set to a fresh storage engine.
type StorageSuite struct {
	suite.Suite

	// Storage is the storage engine configured by the upper level test,
	// which either configures a memory or a rdbms storage backend.
	Storage storage.Storage

	// txStorage storage is initialized from storage at the beginning of each test. If
	// the backend supports transactions, txStorage runs within a transaction.
	txStorage storage.Storage

	ctx context.Context
}

// InitStorage initializes the storage backend with a new transaction, if supported
func InitStorage(s storage.Storage) storage.Storage {
	switch s := s.(type) {
	case storage.TransactionalStorage:
		txStorage, err := s.BeginTx()
		if err != nil {
			panic(fmt.Errorf("could not initiate transaction: %v", err))
		}
		return txStorage
	default:
		return s
	}
}

// FinalizeStorage finalizes the storage layer with either a rollback of the current transaction
// or by resetting altogether the backend, if supported.
func FinalizeStorage(s storage.Storage) {
	switch s := s.(type) {
	case storage.TransactionalStorage:
		err := s.Rollback()
		if err != nil {
			panic(fmt.Errorf("could not rollback transaction: %v", err))
		}
	case storage.ResettableStorage:
		_ = s.Reset()
	default:
		panic("unknown storage type")
	}
}

// SetupTest implements suite.SetupTestSuite.
func (s *StorageSuite) SetupTest() {
	s.ctx = context.Background()
	s.txStorage = InitStorage(s.Storage)
}

// TearDownTest implements suite.TearDownTestSuite.
func (s *StorageSuite) TearDownTest() {
	FinalizeStorage(s.txStorage)
}

func now() time.Time {
	// databases do not keep sub-second precision everywhere
	return time.Now().UTC().Truncate(time.Second)
}

func (s *StorageSuite) newJob() *job.Job {
	j := job.New(types.NewID(), job.Source{RevisionSHA: "deadbeef"})
	j.DateCreated = now()
	j.Data = job.Data{JobName: "server", Queued: true, ItemID: "12"}
	j.Status = job.StatusQueued
	require.NoError(s.T(), s.txStorage.SaveJob(s.ctx, j))
	return j
}

func (s *StorageSuite) newStep(j *job.Job, label string) (*job.Phase, *job.Step) {
	phase, _, err := s.txStorage.GetOrCreatePhase(s.ctx, job.PhaseKey{JobID: j.ID, Label: "server"}, job.Phase{
		ProjectID:   j.ProjectID,
		Status:      job.StatusInProgress,
		DateCreated: now(),
	})
	require.NoError(s.T(), err)
	step, _, err := s.txStorage.GetOrCreateStep(s.ctx, job.StepKey{JobID: j.ID, PhaseID: phase.ID, Label: label}, job.Step{
		ProjectID:   j.ProjectID,
		Status:      job.StatusInProgress,
		Data:        job.StepData{JobName: "server", BuildNo: 3},
		DateCreated: now(),
	})
	require.NoError(s.T(), err)
	return phase, step
}

func (s *StorageSuite) TestJob() {
	t := s.T()
	j := s.newJob()

	got, err := s.txStorage.GetJob(s.ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, j.ID, got.ID)
	require.Equal(t, j.ProjectID, got.ProjectID)
	require.Equal(t, job.StatusQueued, got.Status)
	require.Equal(t, j.Data, got.Data)
	require.Equal(t, "deadbeef", got.Source.RevisionSHA)
	require.Nil(t, got.DateStarted)

	started := now()
	got.Status = job.StatusInProgress
	got.DateStarted = &started
	got.Data = job.Data{JobName: "server", BuildNo: 7}
	require.NoError(t, s.txStorage.SaveJob(s.ctx, got))

	got, err = s.txStorage.GetJob(s.ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusInProgress, got.Status)
	require.Equal(t, 7, got.Data.BuildNo)
	require.False(t, got.Data.Queued)
	require.NotNil(t, got.DateStarted)
	require.True(t, started.Equal(*got.DateStarted))

	_, err = s.txStorage.GetJob(s.ctx, types.NewID())
	require.True(t, errors.Is(err, cerrors.ErrNotFound))
}

func (s *StorageSuite) TestListJobs() {
	t := s.T()
	queued := s.newJob()
	finished := s.newJob()
	finished.Finish(job.ResultPassed, now())
	require.NoError(t, s.txStorage.SaveJob(s.ctx, finished))

	query, err := storage.BuildJobQuery(storage.QueryStatuses(job.StatusQueued, job.StatusInProgress))
	require.NoError(t, err)
	jobs, err := s.txStorage.ListJobs(s.ctx, query)
	require.NoError(t, err)
	ids := map[types.ID]bool{}
	for _, j := range jobs {
		ids[j.ID] = true
	}
	require.True(t, ids[queued.ID])
	require.False(t, ids[finished.ID])

	query, err = storage.BuildJobQuery(storage.QueryProjectID(finished.ProjectID))
	require.NoError(t, err)
	jobs, err = s.txStorage.ListJobs(s.ctx, query)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, job.ResultPassed, jobs[0].Result)
	require.NotNil(t, jobs[0].DateFinished)
}

func (s *StorageSuite) TestGetOrCreatePhaseAndStep() {
	t := s.T()
	j := s.newJob()
	phase, step := s.newStep(j, "server #3")

	// same identity returns the existing records
	phase2, created, err := s.txStorage.GetOrCreatePhase(s.ctx, job.PhaseKey{JobID: j.ID, Label: "server"}, job.Phase{Status: job.StatusQueued})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, phase.ID, phase2.ID)
	require.Equal(t, job.StatusInProgress, phase2.Status)

	step2, created, err := s.txStorage.GetOrCreateStep(s.ctx, job.StepKey{JobID: j.ID, PhaseID: phase.ID, Label: "server #3"}, job.Step{})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, step.ID, step2.ID)
	require.Equal(t, job.StepData{JobName: "server", BuildNo: 3}, step2.Data)

	// a different label is a different step
	step3, created, err := s.txStorage.GetOrCreateStep(s.ctx, job.StepKey{JobID: j.ID, PhaseID: phase.ID, Label: "server #4"}, job.Step{DateCreated: now()})
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, step.ID, step3.ID)

	steps, err := s.txStorage.ListSteps(s.ctx, &storage.StepQuery{JobID: j.ID})
	require.NoError(t, err)
	require.Len(t, steps, 2)

	_, _, err = s.txStorage.GetOrCreateStep(s.ctx, job.StepKey{JobID: j.ID, PhaseID: phase.ID, Label: strings.Repeat("x", 1000)}, job.Step{})
	require.Error(t, err)
}

func (s *StorageSuite) TestSavePhaseAndStep() {
	t := s.T()
	j := s.newJob()
	phase, step := s.newStep(j, "server #3")

	node, created, err := s.txStorage.GetOrCreateNode(s.ctx, "worker-1")
	require.NoError(t, err)
	require.True(t, created)

	started, finished := now().Add(-time.Minute), now()
	step.NodeID = node.ID
	step.Label = "server #3 (renamed)"
	step.Status = job.StatusFinished
	step.Result = job.ResultFailed
	step.DateStarted = &started
	step.DateFinished = &finished
	step.Data.LogOffset = 1234
	require.NoError(t, s.txStorage.SaveStep(s.ctx, step))

	phase.Apply(step)
	require.NoError(t, s.txStorage.SavePhase(s.ctx, phase))

	got, err := s.txStorage.GetStep(s.ctx, step.ID)
	require.NoError(t, err)
	require.Equal(t, node.ID, got.NodeID)
	require.Equal(t, "server #3 (renamed)", got.Label)
	require.Equal(t, job.ResultFailed, got.Result)
	require.Equal(t, int64(1234), got.Data.LogOffset)
	require.True(t, finished.Equal(*got.DateFinished))

	gotPhase, err := s.txStorage.GetPhase(s.ctx, phase.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusFinished, gotPhase.Status)
	require.Equal(t, job.ResultFailed, gotPhase.Result)
	require.True(t, started.Equal(*gotPhase.DateStarted))

	query, err := storage.BuildStepQuery(storage.QueryJobID(j.ID), storage.QueryStatuses(job.StatusInProgress))
	require.NoError(t, err)
	steps, err := s.txStorage.ListSteps(s.ctx, query)
	require.NoError(t, err)
	require.Empty(t, steps)

	_, err = s.txStorage.GetStep(s.ctx, types.NewID())
	require.True(t, errors.Is(err, cerrors.ErrNotFound))
}

func (s *StorageSuite) TestGetOrCreateNode() {
	t := s.T()
	label := "worker-" + types.NewID().String()
	n1, created, err := s.txStorage.GetOrCreateNode(s.ctx, label)
	require.NoError(t, err)
	require.True(t, created)
	n2, created, err := s.txStorage.GetOrCreateNode(s.ctx, label)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, n1.ID, n2.ID)
	require.Equal(t, label, n2.Label)
}

func (s *StorageSuite) TestLogSources() {
	t := s.T()
	j := s.newJob()
	_, step := s.newStep(j, "server #3")

	console, created, err := s.txStorage.GetOrCreateLogSource(s.ctx, job.LogSourceKey{JobID: j.ID, Name: "server #3"}, job.LogSource{
		ProjectID:   j.ProjectID,
		DateCreated: now(),
	})
	require.NoError(t, err)
	require.True(t, created)

	// same name scoped to a step is a different source
	artifact, created, err := s.txStorage.GetOrCreateLogSource(s.ctx, job.LogSourceKey{JobID: j.ID, StepID: step.ID, Name: "server #3"}, job.LogSource{
		ProjectID:   j.ProjectID,
		DateCreated: now(),
	})
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, console.ID, artifact.ID)

	again, created, err := s.txStorage.GetOrCreateLogSource(s.ctx, job.LogSourceKey{JobID: j.ID, Name: "server #3"}, job.LogSource{})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, console.ID, again.ID)

	got, err := s.txStorage.GetLogSource(s.ctx, artifact.ID)
	require.NoError(t, err)
	require.Equal(t, step.ID, got.StepID)

	sources, err := s.txStorage.ListLogSources(s.ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, sources, 2)
}

func (s *StorageSuite) TestUpsertLogChunk() {
	t := s.T()
	j := s.newJob()
	src, _, err := s.txStorage.GetOrCreateLogSource(s.ctx, job.LogSourceKey{JobID: j.ID, Name: "console"}, job.LogSource{ProjectID: j.ProjectID, DateCreated: now()})
	require.NoError(t, err)

	upsert := func(offset int64, text string) *job.LogChunk {
		c, err := s.txStorage.UpsertLogChunk(s.ctx, job.LogChunk{
			SourceID:  src.ID,
			JobID:     j.ID,
			ProjectID: j.ProjectID,
			Offset:    offset,
			Size:      len(text),
			Text:      text,
		})
		require.NoError(t, err)
		return c
	}
	first := upsert(0, "abcd")
	upsert(4, "\nef")
	// same (source, offset) again is an update, not a new chunk
	again := upsert(0, "abcd")
	require.Equal(t, first.ID, again.ID)

	chunks, err := s.txStorage.ListLogChunks(s.ctx, src.ID, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, int64(0), chunks[0].Offset)
	require.Equal(t, "abcd", chunks[0].Text)
	require.Equal(t, int64(4), chunks[1].Offset)
	require.Equal(t, 3, chunks[1].Size)

	chunks, err = s.txStorage.ListLogChunks(s.ctx, src.ID, 4)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "\nef", chunks[0].Text)

	chunks, err = s.txStorage.ListLogChunks(s.ctx, src.ID, 7)
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func (s *StorageSuite) TestTestSuitesAndResults() {
	t := s.T()
	j := s.newJob()
	sha := job.NameSHA("unit")

	suite1, created, err := s.txStorage.GetOrCreateTestSuite(s.ctx, job.TestSuiteKey{JobID: j.ID, NameSHA: sha}, job.TestSuite{Name: "unit", ProjectID: j.ProjectID})
	require.NoError(t, err)
	require.True(t, created)
	suite2, created, err := s.txStorage.GetOrCreateTestSuite(s.ctx, job.TestSuiteKey{JobID: j.ID, NameSHA: sha}, job.TestSuite{Name: "unit", ProjectID: j.ProjectID})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, suite1.ID, suite2.ID)

	agg, created, err := s.txStorage.GetOrCreateAggregateTestSuite(s.ctx, job.AggregateTestSuiteKey{ProjectID: j.ProjectID, NameSHA: sha}, job.AggregateTestSuite{Name: "unit", FirstJobID: j.ID})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, j.ID, agg.FirstJobID)

	// the first job that produced the suite is kept
	agg2, created, err := s.txStorage.GetOrCreateAggregateTestSuite(s.ctx, job.AggregateTestSuiteKey{ProjectID: j.ProjectID, NameSHA: sha}, job.AggregateTestSuite{Name: "unit", FirstJobID: types.NewID()})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, agg.ID, agg2.ID)
	require.Equal(t, j.ID, agg2.FirstJobID)

	results := []*job.TestResult{
		{JobID: j.ID, SuiteID: suite1.ID, Name: "TestA", Package: "pkg", Duration: 250, Result: job.ResultPassed},
		{JobID: j.ID, SuiteID: suite1.ID, Name: "TestB", Duration: 1000, Message: "Error\n-----\nboom", Result: job.ResultFailed},
	}
	require.NoError(t, s.txStorage.SaveTestResults(s.ctx, results))

	got, err := s.txStorage.ListTestResults(s.ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	byName := map[string]*job.TestResult{}
	for _, r := range got {
		byName[r.Name] = r
	}
	require.Equal(t, "pkg", byName["TestA"].Package)
	require.Equal(t, int64(250), byName["TestA"].Duration)
	require.Equal(t, job.ResultFailed, byName["TestB"].Result)
	require.Equal(t, "Error\n-----\nboom", byName["TestB"].Message)
	require.Equal(t, suite1.ID, byName["TestB"].SuiteID)
}

func (s *StorageSuite) TestSaveTestResultsReplacesSameCase() {
	t := s.T()
	j := s.newJob()
	suite, _, err := s.txStorage.GetOrCreateTestSuite(s.ctx, job.TestSuiteKey{JobID: j.ID, NameSHA: job.NameSHA("unit")}, job.TestSuite{Name: "unit", ProjectID: j.ProjectID})
	require.NoError(t, err)

	first := []*job.TestResult{
		{JobID: j.ID, SuiteID: suite.ID, Name: "TestA", Package: "pkg", Duration: 10, Result: job.ResultFailed, Message: "boom"},
		{JobID: j.ID, SuiteID: suite.ID, Name: "TestB", Result: job.ResultPassed},
	}
	require.NoError(t, s.txStorage.SaveTestResults(s.ctx, first))
	require.Equal(t, job.CaseSHA("pkg", "TestA"), first[0].NameSHA)

	// same name in another package is another case
	second := []*job.TestResult{
		{JobID: j.ID, SuiteID: suite.ID, Name: "TestA", Package: "pkg", Duration: 20, Result: job.ResultPassed},
		{JobID: j.ID, SuiteID: suite.ID, Name: "TestA", Package: "other", Result: job.ResultSkipped},
	}
	require.NoError(t, s.txStorage.SaveTestResults(s.ctx, second))
	require.Equal(t, first[0].ID, second[0].ID)

	got, err := s.txStorage.ListTestResults(s.ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, first[0].ID, got[0].ID)
	require.Equal(t, job.ResultPassed, got[0].Result)
	require.Equal(t, int64(20), got[0].Duration)
	require.Empty(t, got[0].Message)
	require.Equal(t, "TestB", got[1].Name)
	require.Equal(t, "other", got[2].Package)
}

func (s *StorageSuite) TestNestedTransactions() {
	t := s.T()
	ts, ok := s.txStorage.(storage.TransactionalStorage)
	if !ok {
		t.Skip("storage does not support transactions")
	}

	kept := s.newJob()

	nested, err := ts.BeginTx()
	require.NoError(t, err)
	discarded := job.New(types.NewID(), job.Source{})
	discarded.DateCreated = now()
	require.NoError(t, nested.SaveJob(s.ctx, discarded))
	_, err = nested.GetJob(s.ctx, discarded.ID)
	require.NoError(t, err)
	require.NoError(t, nested.Rollback())

	_, err = ts.GetJob(s.ctx, discarded.ID)
	require.True(t, errors.Is(err, cerrors.ErrNotFound))
	_, err = ts.GetJob(s.ctx, kept.ID)
	require.NoError(t, err)

	nested, err = ts.BeginTx()
	require.NoError(t, err)
	committed := job.New(types.NewID(), job.Source{})
	committed.DateCreated = now()
	require.NoError(t, nested.SaveJob(s.ctx, committed))
	require.NoError(t, nested.Commit())

	_, err = ts.GetJob(s.ctx, committed.ID)
	require.NoError(t, err)

	// a finished transaction cannot be used anymore
	require.Error(t, nested.Commit())
}
