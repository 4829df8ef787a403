// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package job

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/facebookincubator/buildsync/pkg/types"
)

type JobSuite struct {
	suite.Suite
	job *Job
}

func (s *JobSuite) SetupTest() {
	s.job = New(types.NewID(), Source{RevisionSHA: "abc"})
}

func (s *JobSuite) TestNew() {
	require.Equal(s.T(), StatusUnknown, s.job.Status)
	require.Equal(s.T(), ResultUnknown, s.job.Result)
	require.Nil(s.T(), s.job.DateFinished)
	require.Len(s.T(), s.job.Token(), 32)
}

func (s *JobSuite) TestFinishKeepsFirstDate() {
	first := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	s.job.Finish(ResultFailed, first)
	s.job.Finish(ResultAborted, first.Add(time.Hour))
	require.Equal(s.T(), StatusFinished, s.job.Status)
	require.Equal(s.T(), ResultAborted, s.job.Result)
	require.Equal(s.T(), first, *s.job.DateFinished)
}

func (s *JobSuite) TestDataRoundTrip() {
	s.job.Data = Data{JobName: "server", Queued: true, ItemID: "12"}
	v, err := s.job.Data.Value()
	require.NoError(s.T(), err)

	var d Data
	require.NoError(s.T(), d.Scan([]byte(v.(string))))
	require.Equal(s.T(), s.job.Data, d)

	var empty Data
	require.NoError(s.T(), empty.Scan(nil))
	require.Error(s.T(), empty.Scan(42))
}

func TestJobSuite(t *testing.T) {
	suite.Run(t, &JobSuite{})
}

func TestStatusAndResultNames(t *testing.T) {
	for status, name := range StatusToName {
		parsed, err := ParseStatus(name)
		require.NoError(t, err)
		require.Equal(t, status, parsed)
	}
	for result, name := range ResultToName {
		parsed, err := ParseResult(name)
		require.NoError(t, err)
		require.Equal(t, result, parsed)
	}
	_, err := ParseStatus("running")
	require.Error(t, err)
	_, err = ParseResult("unstable")
	require.Error(t, err)

	data, err := json.Marshal(struct {
		S Status
		R Result
	}{StatusInProgress, ResultPassed})
	require.NoError(t, err)
	require.JSONEq(t, `{"S": "in_progress", "R": "passed"}`, string(data))

	var s Status
	require.NoError(t, s.Scan([]byte("finished")))
	require.Equal(t, StatusFinished, s)
	require.Error(t, s.Scan("done"))
}

func TestStepHelpers(t *testing.T) {
	require.Equal(t, "server #42", StepLabel("server", 42))

	started := time.Now().UTC()
	step := &Step{Status: StatusInProgress, Result: ResultUnknown, DateStarted: &started}
	var phase Phase
	phase.Apply(step)
	require.Equal(t, StatusInProgress, phase.Status)
	require.Equal(t, &started, phase.DateStarted)

	chunk := LogChunk{Offset: 4096, Size: 10}
	require.Equal(t, int64(4106), chunk.End())

	require.Equal(t, "a94a8fe5ccb19ba61c4c0873d391e987982fbbd3", NameSHA("test"))
}
