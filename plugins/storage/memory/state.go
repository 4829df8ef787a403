// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package memory

import (
	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/types"
)

// state holds entities by value, so that a shallow copy of the maps is
// enough to isolate a transaction.
type state struct {
	jobs       map[types.ID]job.Job
	phases     map[types.ID]job.Phase
	phaseKeys  map[job.PhaseKey]types.ID
	steps      map[types.ID]job.Step
	stepKeys   map[job.StepKey]types.ID
	nodes      map[string]job.Node
	sources    map[types.ID]job.LogSource
	sourceKeys map[job.LogSourceKey]types.ID
	chunks     map[job.LogChunkKey]job.LogChunk
	suites     map[types.ID]job.TestSuite
	suiteKeys  map[job.TestSuiteKey]types.ID
	aggSuites  map[job.AggregateTestSuiteKey]job.AggregateTestSuite
	results    []job.TestResult
}

func newState() *state {
	return &state{
		jobs:       make(map[types.ID]job.Job),
		phases:     make(map[types.ID]job.Phase),
		phaseKeys:  make(map[job.PhaseKey]types.ID),
		steps:      make(map[types.ID]job.Step),
		stepKeys:   make(map[job.StepKey]types.ID),
		nodes:      make(map[string]job.Node),
		sources:    make(map[types.ID]job.LogSource),
		sourceKeys: make(map[job.LogSourceKey]types.ID),
		chunks:     make(map[job.LogChunkKey]job.LogChunk),
		suites:     make(map[types.ID]job.TestSuite),
		suiteKeys:  make(map[job.TestSuiteKey]types.ID),
		aggSuites:  make(map[job.AggregateTestSuiteKey]job.AggregateTestSuite),
	}
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

func (s *state) clone() *state {
	c := newState()
	copyMap(c.jobs, s.jobs)
	copyMap(c.phases, s.phases)
	copyMap(c.phaseKeys, s.phaseKeys)
	copyMap(c.steps, s.steps)
	copyMap(c.stepKeys, s.stepKeys)
	copyMap(c.nodes, s.nodes)
	copyMap(c.sources, s.sources)
	copyMap(c.sourceKeys, s.sourceKeys)
	copyMap(c.chunks, s.chunks)
	copyMap(c.suites, s.suites)
	copyMap(c.suiteKeys, s.suiteKeys)
	copyMap(c.aggSuites, s.aggSuites)
	c.results = append([]job.TestResult(nil), s.results...)
	return c
}
