// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package builder

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/buildsync/pkg/cerrors"
	"github.com/facebookincubator/buildsync/pkg/event"
	"github.com/facebookincubator/buildsync/pkg/executor"
	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/testreport"
	"github.com/facebookincubator/buildsync/pkg/types"
)

func strPtr(s string) *string {
	return &s
}

func TestBuildResult(t *testing.T) {
	for value, expected := range map[string]job.Result{
		"SUCCESS":    job.ResultPassed,
		"ABORTED":    job.ResultAborted,
		"FAILURE":    job.ResultFailed,
		"REGRESSION": job.ResultFailed,
		"UNSTABLE":   job.ResultFailed,
	} {
		r, err := BuildResult(strPtr(value))
		require.NoError(t, err, value)
		assert.Equal(t, expected, r, value)
	}
	for _, value := range []*string{nil, strPtr("NOT_BUILT"), strPtr("success")} {
		_, err := BuildResult(value)
		require.ErrorIs(t, err, cerrors.ErrInvalidResult)
	}
}

func TestSyncStepFinishedUnstable(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	stor := newTestStorage(t)
	cfg := testConfig()
	cfg.Sync.LogChunkSize = 4
	publisher := &event.Recorder{}
	b, err := New(cfg, exec, stor, Publisher(publisher))
	require.NoError(t, err)

	j, step := createActiveStep(t, b, 7)
	exec.build[7] = &executor.Build{
		Number:          7,
		BuiltOn:         "builder-1",
		FullDisplayName: "server #7",
		Result:          strPtr("UNSTABLE"),
		Timestamp:       1600000000000,
		Duration:        90000,
	}
	exec.console = func(offset int64) (*executor.ConsoleLog, error) {
		return consoleLog("abcd\nef", offset, false), nil
	}
	exec.report = &testreport.Report{Suites: []testreport.Suite{{
		Name: "unit",
		Cases: []testreport.Case{
			{Name: "test_ok", ClassName: "pkg.a", Duration: 0.25, Status: testreport.StatusPassed},
			{Name: "test_ko", ClassName: "pkg.a", Status: testreport.StatusRegression, ErrorDetails: "boom", ErrorStackTrace: "at line 1"},
		},
	}}}

	require.NoError(t, b.SyncStep(ctx, step))

	stored, err := stor.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFinished, stored.Status)
	assert.Equal(t, job.ResultFailed, stored.Result)
	assert.Equal(t, time.Unix(1600000000, 0).UTC(), stored.DateStarted.UTC())
	assert.Equal(t, time.Unix(1600000090, 0).UTC(), stored.DateFinished.UTC())
	assert.Equal(t, int64(7), stored.Data.LogOffset)
	assert.NotEqual(t, types.NilID, stored.NodeID)

	phase, err := stor.GetPhase(ctx, step.PhaseID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFinished, phase.Status)
	assert.Equal(t, job.ResultFailed, phase.Result)

	sources, err := stor.ListLogSources(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "server #7", sources[0].Name)
	chunks, err := stor.ListLogChunks(ctx, sources[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "abcd", chunks[0].Text)
	assert.Equal(t, int64(0), chunks[0].Offset)
	assert.Equal(t, "\nef", chunks[1].Text)
	assert.Equal(t, int64(4), chunks[1].Offset)

	events := publisher.Events()
	require.Len(t, events, 2)
	var payload event.LogChunkPayload
	require.NoError(t, json.Unmarshal(*events[1].Payload, &payload))
	assert.Equal(t, event.LogChunkEventName, events[1].Name)
	assert.Equal(t, j.ID, events[1].JobID)
	assert.Equal(t, int64(4), payload.Offset)

	results, err := stor.ListTestResults(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, job.ResultPassed, results[0].Result)
	assert.Equal(t, int64(250), results[0].Duration)
	assert.Equal(t, job.ResultFailed, results[1].Result)
	assert.Equal(t, "Error\n-----\nboom\n\nStacktrace\n----------\nat line 1", results[1].Message)
}

func TestSyncStepBuilding(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	stor := newTestStorage(t)
	b, err := New(testConfig(), exec, stor)
	require.NoError(t, err)

	_, step := createActiveStep(t, b, 3)
	exec.build[3] = &executor.Build{Number: 3, Building: true, Timestamp: 1000}
	require.NoError(t, b.SyncStep(ctx, step))

	stored, err := stor.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusInProgress, stored.Status)
	assert.Nil(t, stored.DateFinished)
	// no display name reported, the label is kept
	assert.Equal(t, "server #3", stored.Label)
}

func TestSyncStepInvalidResult(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	stor := newTestStorage(t)
	b, err := New(testConfig(), exec, stor)
	require.NoError(t, err)

	_, step := createActiveStep(t, b, 3)
	exec.build[3] = &executor.Build{Number: 3, Result: strPtr("NOT_BUILT")}
	err = b.SyncStep(ctx, step)
	require.ErrorIs(t, err, cerrors.ErrInvalidResult)

	stored, err := stor.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusInProgress, stored.Status)
}

func TestSyncStepBuildGone(t *testing.T) {
	ctx := context.Background()
	stor := newTestStorage(t)
	b, err := New(testConfig(), newFakeExecutor(), stor)
	require.NoError(t, err)

	_, step := createActiveStep(t, b, 3)
	err = b.SyncStep(ctx, step)
	require.ErrorIs(t, err, cerrors.ErrUnrecoverable)
	require.ErrorIs(t, err, cerrors.ErrNotFound)

	stored, err := stor.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFinished, stored.Status)
	assert.Equal(t, job.ResultFailed, stored.Result)
	phase, err := stor.GetPhase(ctx, step.PhaseID)
	require.NoError(t, err)
	assert.Equal(t, job.ResultFailed, phase.Result)
}

func TestSyncStepResumesAndSkipsStaleLog(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	stor := newTestStorage(t)
	cfg := testConfig()
	cfg.Sync.LogChunkSize = 4
	b, err := New(cfg, exec, stor)
	require.NoError(t, err)

	j, step := createActiveStep(t, b, 3)
	exec.build[3] = &executor.Build{Number: 3, Building: true}
	text := "line1\n"
	exec.console = func(offset int64) (*executor.ConsoleLog, error) {
		return consoleLog(text, offset, false), nil
	}
	require.NoError(t, b.SyncStep(ctx, step))

	// the log grows, only the new part is fetched
	text = "line1\nline2\n"
	require.NoError(t, b.SyncStep(ctx, step))
	assert.Equal(t, int64(12), step.Data.LogOffset)

	// the log was truncated, nothing is written
	text = "new\n"
	require.NoError(t, b.SyncStep(ctx, step))
	assert.Equal(t, int64(12), step.Data.LogOffset)

	sources, err := stor.ListLogSources(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	chunks, err := stor.ListLogChunks(ctx, sources[0].ID, 0)
	require.NoError(t, err)
	var got strings.Builder
	for i, c := range chunks {
		if i > 0 {
			assert.Equal(t, chunks[i-1].End(), c.Offset)
		}
		got.WriteString(c.Text)
	}
	assert.Equal(t, "line1\nline2\n", got.String())
}

func TestSyncStepLogTimeoutDiscardsProgress(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	stor := newTestStorage(t)
	mock := clock.NewMock()
	publisher := &event.Recorder{}
	b, err := New(testConfig(), exec, stor, Clock(mock), Publisher(publisher))
	require.NoError(t, err)

	j, step := createActiveStep(t, b, 3)
	exec.build[3] = &executor.Build{Number: 3, Building: true}
	calls := 0
	exec.console = func(offset int64) (*executor.ConsoleLog, error) {
		calls++
		mock.Add(20 * time.Second)
		return consoleLog(strings.Repeat("x\n", calls*10), offset, true), nil
	}
	// the log sync failure does not fail the step sync
	require.NoError(t, b.SyncStep(ctx, step))
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(0), step.Data.LogOffset)

	stored, err := stor.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Data.LogOffset)
	sources, err := stor.ListLogSources(ctx, j.ID)
	require.NoError(t, err)
	assert.Empty(t, sources)
	// nothing was committed, nothing is announced
	assert.Empty(t, publisher.Events())
}

func TestSyncStepRepeatedKeepsOneResultPerCase(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	stor := newTestStorage(t)
	b, err := New(testConfig(), exec, stor)
	require.NoError(t, err)

	j, step := createActiveStep(t, b, 5)
	exec.build[5] = &executor.Build{
		Number:    5,
		Building:  true,
		Artifacts: []executor.Artifact{{FileName: "junit.xml", DisplayPath: "junit.xml", RelativePath: "junit.xml"}},
	}
	exec.artifacts["junit.xml"] = `<testsuite name="integ"><testcase name="t1" classname="c" time="1.5"/></testsuite>`
	exec.report = &testreport.Report{Suites: []testreport.Suite{{
		Name:  "unit",
		Cases: []testreport.Case{{Name: "test_a", ClassName: "pkg.a", Status: testreport.StatusFailed, ErrorDetails: "boom"}},
	}}}
	require.NoError(t, b.SyncStep(ctx, step))
	require.NoError(t, b.SyncStep(ctx, step))

	exec.build[5].Building = false
	exec.build[5].Result = strPtr("SUCCESS")
	exec.report.Suites[0].Cases[0] = testreport.Case{Name: "test_a", ClassName: "pkg.a", Duration: 2, Status: testreport.StatusFixed}
	require.NoError(t, b.SyncStep(ctx, step))

	results, err := stor.ListTestResults(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	byName := map[string]*job.TestResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	require.Contains(t, byName, "test_a")
	require.Contains(t, byName, "t1")
	assert.Equal(t, job.ResultPassed, byName["test_a"].Result)
	assert.Equal(t, int64(2000), byName["test_a"].Duration)
	assert.Empty(t, byName["test_a"].Message)
	assert.Equal(t, job.CaseSHA("pkg.a", "test_a"), byName["test_a"].NameSHA)
}

func TestSyncStepTestReportFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	stor := newTestStorage(t)
	b, err := New(testConfig(), exec, stor)
	require.NoError(t, err)

	j, step := createActiveStep(t, b, 3)
	exec.build[3] = &executor.Build{Number: 3, Result: strPtr("SUCCESS")}
	exec.report = &testreport.Report{Suites: []testreport.Suite{{
		Name: "unit",
		Cases: []testreport.Case{
			{Name: "test_ok", Status: testreport.StatusPassed},
			{Name: "test_weird", Status: "FLAKY"},
		},
	}}}
	exec.console = func(offset int64) (*executor.ConsoleLog, error) {
		return consoleLog("done\n", offset, false), nil
	}
	require.NoError(t, b.SyncStep(ctx, step))

	results, err := stor.ListTestResults(ctx, j.ID)
	require.NoError(t, err)
	assert.Empty(t, results)

	stored, err := stor.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ResultPassed, stored.Result)
	assert.Equal(t, int64(5), stored.Data.LogOffset)
}

func TestSyncStepArtifacts(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	stor := newTestStorage(t)
	cfg := testConfig()
	cfg.Sync.SyncLogArtifacts = true
	publisher := &event.Recorder{}
	b, err := New(cfg, exec, stor, Publisher(publisher))
	require.NoError(t, err)

	j, step := createActiveStep(t, b, 3)
	exec.build[3] = &executor.Build{
		Number: 3,
		Result: strPtr("FAILURE"),
		Artifacts: []executor.Artifact{
			{FileName: "build.log", DisplayPath: "out/build.log", RelativePath: "out/build.log"},
			{FileName: "junit.xml", DisplayPath: "junit.xml", RelativePath: "reports/junit.xml"},
			{FileName: "binary", DisplayPath: "binary", RelativePath: "binary"},
		},
	}
	exec.artifacts["out/build.log"] = "compiling\nlinking\n"
	exec.artifacts["reports/junit.xml"] = `<testsuite name="integ"><testcase name="t1" classname="c" time="1.5"/></testsuite>`

	require.NoError(t, b.SyncStep(ctx, step))

	sources, err := stor.ListLogSources(ctx, j.ID)
	require.NoError(t, err)
	var artifactSource *job.LogSource
	for _, s := range sources {
		if s.Name == "out/build.log" {
			artifactSource = s
		}
	}
	require.NotNil(t, artifactSource)
	assert.Equal(t, step.ID, artifactSource.StepID)
	chunks, err := stor.ListLogChunks(ctx, artifactSource.ID, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "compiling\nlinking\n", chunks[0].Text)
	require.Len(t, publisher.Events(), 1)
	assert.Equal(t, j.ID, publisher.Events()[0].JobID)

	results, err := stor.ListTestResults(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "t1", results[0].Name)
	assert.Equal(t, int64(1500), results[0].Duration)
}

func TestSyncStepArtifactFailure(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	stor := newTestStorage(t)
	b, err := New(testConfig(), exec, stor)
	require.NoError(t, err)

	_, step := createActiveStep(t, b, 3)
	exec.build[3] = &executor.Build{
		Number:    3,
		Result:    strPtr("SUCCESS"),
		Artifacts: []executor.Artifact{{FileName: "nosetests.xml", RelativePath: "nosetests.xml"}},
	}
	err = b.SyncStep(ctx, step)
	require.ErrorIs(t, err, cerrors.ErrNotFound)

	// the status was committed before the artifacts
	stored, err := stor.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFinished, stored.Status)
}

func TestSyncStepArtifactRollbackPublishesNothing(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	stor := newTestStorage(t)
	cfg := testConfig()
	cfg.Sync.SyncLogArtifacts = true
	cfg.Sync.LogArtifactSuffix = ".xml"
	publisher := &event.Recorder{}
	b, err := New(cfg, exec, stor, Publisher(publisher))
	require.NoError(t, err)

	j, step := createActiveStep(t, b, 3)
	exec.build[3] = &executor.Build{
		Number:    3,
		Result:    strPtr("SUCCESS"),
		Artifacts: []executor.Artifact{{FileName: "junit.xml", DisplayPath: "junit.xml", RelativePath: "junit.xml"}},
	}
	// stored as a log first, then rejected as a report
	exec.artifacts["junit.xml"] = "<report><entry/></report>\n"

	require.Error(t, b.SyncStep(ctx, step))
	sources, err := stor.ListLogSources(ctx, j.ID)
	require.NoError(t, err)
	assert.Empty(t, sources)
	assert.Empty(t, publisher.Events())
}

func TestReplicateLogIsIdempotent(t *testing.T) {
	ctx := context.Background()
	stor := newTestStorage(t)
	cfg := testConfig()
	cfg.Sync.LogChunkSize = 4
	b, err := New(cfg, newFakeExecutor(), stor)
	require.NoError(t, err)

	source, _, err := stor.GetOrCreateLogSource(ctx, job.LogSourceKey{JobID: types.NewID(), Name: "console"}, job.LogSource{})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		var stored []*job.LogChunk
		end, err := b.replicateLog(ctx, stor, source, strings.NewReader("ab\ncdefgh"), 10, &stored)
		require.NoError(t, err)
		assert.Equal(t, int64(19), end)
		assert.Len(t, stored, 3)
	}
	chunks, err := stor.ListLogChunks(ctx, source.ID, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"ab\n", "cdef", "gh"}, []string{chunks[0].Text, chunks[1].Text, chunks[2].Text})
	assert.Equal(t, []int64{10, 13, 17}, []int64{chunks[0].Offset, chunks[1].Offset, chunks[2].Offset})
}
