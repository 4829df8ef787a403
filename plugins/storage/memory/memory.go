// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/facebookincubator/buildsync/pkg/cerrors"
	"github.com/facebookincubator/buildsync/pkg/config"
	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/storage"
	"github.com/facebookincubator/buildsync/pkg/storage/limits"
	"github.com/facebookincubator/buildsync/pkg/types"
)

var errTxDone = errors.New("transaction has already been committed or rolled back")

// Memory implements a storage engine which stores everything in memory. This
// storage engine is very inefficient and should be used only for testing
// purposes.
//
// Transactions work on a private copy of the data and record every change.
// On commit the changes are replayed onto the parent, so that the effects of
// concurrent transactions are merged rather than overwritten.
type Memory struct {
	lock   *sync.Mutex
	state  *state
	parent *Memory
	// journal is only recorded within transactions
	journal []mutation
	done    bool
}

type mutation func(s *state) error

// New create a new Memory storage backend
func New() (storage.TransactionalStorage, error) {
	return &Memory{
		lock:  &sync.Mutex{},
		state: newState(),
	}, nil
}

// apply runs a mutation against the current state and records it when
// running within a transaction. Must be called with the lock held.
func (m *Memory) apply(f mutation) error {
	if m.done {
		return errTxDone
	}
	if err := f(m.state); err != nil {
		return err
	}
	if m.parent != nil {
		m.journal = append(m.journal, f)
	}
	return nil
}

func (m *Memory) read() (*state, error) {
	if m.done {
		return nil, errTxDone
	}
	return m.state, nil
}

// BeginTx starts a (possibly nested) transaction.
func (m *Memory) BeginTx() (storage.TransactionalStorage, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.done {
		return nil, errTxDone
	}
	return &Memory{
		lock:   m.lock,
		state:  m.state.clone(),
		parent: m,
	}, nil
}

// Commit replays the changes of the transaction onto its parent.
func (m *Memory) Commit() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.parent == nil {
		return errors.New("not in a transaction")
	}
	if m.done {
		return errTxDone
	}
	m.done = true
	// changes are replayed onto a copy so that a conflict leaves the parent
	// untouched
	parent := m.parent
	if parent.done {
		return errTxDone
	}
	merged := parent.state.clone()
	for _, f := range m.journal {
		if err := f(merged); err != nil {
			return fmt.Errorf("could not commit transaction: %w", err)
		}
	}
	parent.state = merged
	if parent.parent != nil {
		parent.journal = append(parent.journal, m.journal...)
	}
	return nil
}

// Rollback discards the changes of the transaction.
func (m *Memory) Rollback() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.parent == nil {
		return errors.New("not in a transaction")
	}
	if m.done {
		return errTxDone
	}
	m.done = true
	m.journal = nil
	return nil
}

// Reset restores the original state of the memory storage layer
func (m *Memory) Reset() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.state = newState()
	m.journal = nil
	return nil
}

// Version returns the version of the memory storage layer.
func (m *Memory) Version() (uint64, error) {
	return config.MinStorageVersion, nil
}

// Close does nothing.
func (m *Memory) Close() error {
	return nil
}

func notFound(what string, id types.ID) error {
	return fmt.Errorf("%s %s: %w", what, id, cerrors.ErrNotFound)
}

// GetJob returns the job with the given ID.
func (m *Memory) GetJob(_ context.Context, jobID types.ID) (*job.Job, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, err
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, notFound("job", jobID)
	}
	return &j, nil
}

// SaveJob inserts or updates a job.
func (m *Memory) SaveJob(_ context.Context, j *job.Job) error {
	if j.ID == types.NilID {
		return errors.New("cannot save a job without ID")
	}
	saved := *j
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.apply(func(s *state) error {
		s.jobs[saved.ID] = saved
		return nil
	})
}

// ListJobs returns the jobs matching the query, oldest first.
func (m *Memory) ListJobs(_ context.Context, query *storage.JobQuery) ([]*job.Job, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, err
	}
	var ret []*job.Job
	for _, j := range s.jobs {
		if query != nil {
			if !storage.MatchStatus(query.Statuses, j.Status) {
				continue
			}
			if query.ProjectID != types.NilID && query.ProjectID != j.ProjectID {
				continue
			}
		}
		j := j
		ret = append(ret, &j)
	}
	sort.Slice(ret, func(i, k int) bool {
		if ret[i].DateCreated.Equal(ret[k].DateCreated) {
			return ret[i].ID.String() < ret[k].ID.String()
		}
		return ret[i].DateCreated.Before(ret[k].DateCreated)
	})
	return ret, nil
}

// GetOrCreatePhase returns the phase identified by key, creating it if needed.
func (m *Memory) GetOrCreatePhase(_ context.Context, key job.PhaseKey, defaults job.Phase) (*job.Phase, bool, error) {
	if err := limits.Validator.ValidateLabel(key.Label); err != nil {
		return nil, false, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, false, err
	}
	if id, ok := s.phaseKeys[key]; ok {
		p := s.phases[id]
		return &p, false, nil
	}
	p := defaults
	if p.ID == types.NilID {
		p.ID = types.NewID()
	}
	p.JobID, p.Label = key.JobID, key.Label
	err = m.apply(func(s *state) error {
		if _, ok := s.phaseKeys[key]; ok {
			return nil
		}
		s.phases[p.ID] = p
		s.phaseKeys[key] = p.ID
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// GetPhase returns the phase with the given ID.
func (m *Memory) GetPhase(_ context.Context, phaseID types.ID) (*job.Phase, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, err
	}
	p, ok := s.phases[phaseID]
	if !ok {
		return nil, notFound("phase", phaseID)
	}
	return &p, nil
}

// SavePhase updates an existing phase.
func (m *Memory) SavePhase(_ context.Context, phase *job.Phase) error {
	saved := *phase
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.apply(func(s *state) error {
		if _, ok := s.phases[saved.ID]; !ok {
			return notFound("phase", saved.ID)
		}
		s.phases[saved.ID] = saved
		return nil
	})
}

// GetOrCreateStep returns the step identified by key, creating it if needed.
func (m *Memory) GetOrCreateStep(_ context.Context, key job.StepKey, defaults job.Step) (*job.Step, bool, error) {
	if err := limits.Validator.ValidateLabel(key.Label); err != nil {
		return nil, false, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, false, err
	}
	if id, ok := s.stepKeys[key]; ok {
		st := s.steps[id]
		return &st, false, nil
	}
	st := defaults
	if st.ID == types.NilID {
		st.ID = types.NewID()
	}
	st.JobID, st.PhaseID, st.Label = key.JobID, key.PhaseID, key.Label
	err = m.apply(func(s *state) error {
		if _, ok := s.stepKeys[key]; ok {
			return nil
		}
		s.steps[st.ID] = st
		s.stepKeys[key] = st.ID
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &st, true, nil
}

// GetStep returns the step with the given ID.
func (m *Memory) GetStep(_ context.Context, stepID types.ID) (*job.Step, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, err
	}
	st, ok := s.steps[stepID]
	if !ok {
		return nil, notFound("step", stepID)
	}
	return &st, nil
}

// SaveStep updates an existing step. The label of a step may change, its
// identity key follows it.
func (m *Memory) SaveStep(_ context.Context, step *job.Step) error {
	if err := limits.Validator.ValidateLabel(step.Label); err != nil {
		return err
	}
	saved := *step
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.apply(func(s *state) error {
		old, ok := s.steps[saved.ID]
		if !ok {
			return notFound("step", saved.ID)
		}
		oldKey := job.StepKey{JobID: old.JobID, PhaseID: old.PhaseID, Label: old.Label}
		newKey := job.StepKey{JobID: saved.JobID, PhaseID: saved.PhaseID, Label: saved.Label}
		if oldKey != newKey {
			if id, ok := s.stepKeys[newKey]; ok && id != saved.ID {
				return fmt.Errorf("step with label %q already exists", saved.Label)
			}
			delete(s.stepKeys, oldKey)
			s.stepKeys[newKey] = saved.ID
		}
		s.steps[saved.ID] = saved
		return nil
	})
}

// ListSteps returns the steps matching the query, ordered by creation date.
func (m *Memory) ListSteps(_ context.Context, query *storage.StepQuery) ([]*job.Step, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, err
	}
	var ret []*job.Step
	for _, st := range s.steps {
		if query != nil {
			if !storage.MatchStatus(query.Statuses, st.Status) {
				continue
			}
			if query.JobID != types.NilID && query.JobID != st.JobID {
				continue
			}
		}
		st := st
		ret = append(ret, &st)
	}
	sort.Slice(ret, func(i, k int) bool {
		if ret[i].DateCreated.Equal(ret[k].DateCreated) {
			return ret[i].Label < ret[k].Label
		}
		return ret[i].DateCreated.Before(ret[k].DateCreated)
	})
	return ret, nil
}

// GetOrCreateNode returns the node with the given label, creating it if needed.
func (m *Memory) GetOrCreateNode(_ context.Context, label string) (*job.Node, bool, error) {
	if err := limits.Validator.ValidateLabel(label); err != nil {
		return nil, false, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, false, err
	}
	if n, ok := s.nodes[label]; ok {
		return &n, false, nil
	}
	n := job.Node{ID: types.NewID(), Label: label}
	err = m.apply(func(s *state) error {
		if _, ok := s.nodes[label]; !ok {
			s.nodes[label] = n
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &n, true, nil
}

// GetOrCreateLogSource returns the log source identified by key, creating it
// if needed.
func (m *Memory) GetOrCreateLogSource(_ context.Context, key job.LogSourceKey, defaults job.LogSource) (*job.LogSource, bool, error) {
	if err := limits.Validator.ValidateLogSourceName(key.Name); err != nil {
		return nil, false, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, false, err
	}
	if id, ok := s.sourceKeys[key]; ok {
		src := s.sources[id]
		return &src, false, nil
	}
	src := defaults
	if src.ID == types.NilID {
		src.ID = types.NewID()
	}
	src.JobID, src.StepID, src.Name = key.JobID, key.StepID, key.Name
	err = m.apply(func(s *state) error {
		if _, ok := s.sourceKeys[key]; ok {
			return nil
		}
		s.sources[src.ID] = src
		s.sourceKeys[key] = src.ID
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &src, true, nil
}

// GetLogSource returns the log source with the given ID.
func (m *Memory) GetLogSource(_ context.Context, sourceID types.ID) (*job.LogSource, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, err
	}
	src, ok := s.sources[sourceID]
	if !ok {
		return nil, notFound("log source", sourceID)
	}
	return &src, nil
}

// ListLogSources returns the log sources of a job, ordered by name.
func (m *Memory) ListLogSources(_ context.Context, jobID types.ID) ([]*job.LogSource, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, err
	}
	var ret []*job.LogSource
	for _, src := range s.sources {
		if src.JobID != jobID {
			continue
		}
		src := src
		ret = append(ret, &src)
	}
	sort.Slice(ret, func(i, k int) bool { return ret[i].Name < ret[k].Name })
	return ret, nil
}

// UpsertLogChunk creates or updates the chunk at (source, offset).
func (m *Memory) UpsertLogChunk(_ context.Context, chunk job.LogChunk) (*job.LogChunk, error) {
	key := job.LogChunkKey{SourceID: chunk.SourceID, Offset: chunk.Offset}
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, err
	}
	if _, ok := s.sources[chunk.SourceID]; !ok {
		return nil, notFound("log source", chunk.SourceID)
	}
	if existing, ok := s.chunks[key]; ok {
		chunk.ID = existing.ID
	} else if chunk.ID == types.NilID {
		chunk.ID = types.NewID()
	}
	err = m.apply(func(s *state) error {
		if existing, ok := s.chunks[key]; ok {
			chunk.ID = existing.ID
		}
		s.chunks[key] = chunk
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// ListLogChunks returns the chunks of a source ending after fromOffset.
func (m *Memory) ListLogChunks(_ context.Context, sourceID types.ID, fromOffset int64) ([]*job.LogChunk, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, err
	}
	var ret []*job.LogChunk
	for key, c := range s.chunks {
		if key.SourceID != sourceID || c.End() <= fromOffset {
			continue
		}
		c := c
		ret = append(ret, &c)
	}
	sort.Slice(ret, func(i, k int) bool { return ret[i].Offset < ret[k].Offset })
	return ret, nil
}

// GetOrCreateTestSuite returns the test suite identified by key, creating it
// if needed.
func (m *Memory) GetOrCreateTestSuite(_ context.Context, key job.TestSuiteKey, defaults job.TestSuite) (*job.TestSuite, bool, error) {
	if err := limits.Validator.ValidateSuiteName(defaults.Name); err != nil {
		return nil, false, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, false, err
	}
	if id, ok := s.suiteKeys[key]; ok {
		suite := s.suites[id]
		return &suite, false, nil
	}
	suite := defaults
	if suite.ID == types.NilID {
		suite.ID = types.NewID()
	}
	suite.JobID, suite.NameSHA = key.JobID, key.NameSHA
	err = m.apply(func(s *state) error {
		if _, ok := s.suiteKeys[key]; ok {
			return nil
		}
		s.suites[suite.ID] = suite
		s.suiteKeys[key] = suite.ID
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &suite, true, nil
}

// GetOrCreateAggregateTestSuite returns the aggregate test suite identified by
// key, creating it if needed.
func (m *Memory) GetOrCreateAggregateTestSuite(_ context.Context, key job.AggregateTestSuiteKey, defaults job.AggregateTestSuite) (*job.AggregateTestSuite, bool, error) {
	if err := limits.Validator.ValidateSuiteName(defaults.Name); err != nil {
		return nil, false, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, false, err
	}
	if agg, ok := s.aggSuites[key]; ok {
		return &agg, false, nil
	}
	agg := defaults
	if agg.ID == types.NilID {
		agg.ID = types.NewID()
	}
	agg.ProjectID, agg.NameSHA = key.ProjectID, key.NameSHA
	err = m.apply(func(s *state) error {
		if _, ok := s.aggSuites[key]; !ok {
			s.aggSuites[key] = agg
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &agg, true, nil
}

// SaveTestResults stores a batch of test results. A result replaces the one
// stored for the same job, suite and case, in place.
func (m *Memory) SaveTestResults(_ context.Context, results []*job.TestResult) error {
	batch := make([]job.TestResult, 0, len(results))
	for _, r := range results {
		if err := limits.Validator.ValidateTestName(r.Name); err != nil {
			return err
		}
		if r.NameSHA == "" {
			r.NameSHA = job.CaseSHA(r.Package, r.Name)
		}
		batch = append(batch, *r)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	err := m.apply(func(s *state) error {
		for i := range batch {
			saved := &batch[i]
			idx := -1
			for k, existing := range s.results {
				if existing.JobID == saved.JobID && existing.SuiteID == saved.SuiteID && existing.NameSHA == saved.NameSHA {
					idx = k
					break
				}
			}
			if idx >= 0 {
				saved.ID = s.results[idx].ID
				s.results[idx] = *saved
				continue
			}
			if saved.ID == types.NilID {
				saved.ID = types.NewID()
			}
			s.results = append(s.results, *saved)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, r := range results {
		r.ID = batch[i].ID
	}
	return nil
}

// ListTestResults returns the test results of a job, in insertion order.
func (m *Memory) ListTestResults(_ context.Context, jobID types.ID) ([]*job.TestResult, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	s, err := m.read()
	if err != nil {
		return nil, err
	}
	var ret []*job.TestResult
	for _, r := range s.results {
		if r.JobID != jobID {
			continue
		}
		r := r
		ret = append(ret, &r)
	}
	return ret, nil
}
