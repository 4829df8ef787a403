// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package rdbms

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/storage"
	"github.com/facebookincubator/buildsync/pkg/storage/limits"
	"github.com/facebookincubator/buildsync/pkg/types"
)

var resultColumns = []string{"id", "job_id", "suite_id", "name_sha", "name", "package", "duration", "message", "result", "seq"}

// GetOrCreateTestSuite returns the test suite identified by key, creating it
// if needed.
func (r *RDBMS) GetOrCreateTestSuite(ctx context.Context, key job.TestSuiteKey, defaults job.TestSuite) (*job.TestSuite, bool, error) {
	if err := limits.Validator.ValidateSuiteName(defaults.Name); err != nil {
		return nil, false, err
	}
	suite := defaults
	if suite.ID == types.NilID {
		suite.ID = types.NewID()
	}
	suite.JobID, suite.NameSHA = key.JobID, key.NameSHA

	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, false, err
	}
	_, err = r.exec(ctx, q, r.dialect.insertIgnoreStmt("test_suites", []string{"id", "job_id", "project_id", "name", "name_sha"}),
		suite.ID, suite.JobID, suite.ProjectID, suite.Name, suite.NameSHA)
	if err != nil {
		return nil, false, fmt.Errorf("could not create test suite %q: %w", suite.Name, err)
	}
	var got job.TestSuite
	err = r.queryRow(ctx, q, "SELECT id, job_id, project_id, name, name_sha FROM test_suites WHERE job_id = ? AND name_sha = ?",
		key.JobID, key.NameSHA).Scan(&got.ID, &got.JobID, &got.ProjectID, &got.Name, &got.NameSHA)
	if err != nil {
		return nil, false, fmt.Errorf("could not fetch test suite %q: %w", suite.Name, err)
	}
	return &got, got.ID == suite.ID, nil
}

// GetOrCreateAggregateTestSuite returns the aggregate test suite identified by
// key, creating it if needed.
func (r *RDBMS) GetOrCreateAggregateTestSuite(ctx context.Context, key job.AggregateTestSuiteKey, defaults job.AggregateTestSuite) (*job.AggregateTestSuite, bool, error) {
	if err := limits.Validator.ValidateSuiteName(defaults.Name); err != nil {
		return nil, false, err
	}
	agg := defaults
	if agg.ID == types.NilID {
		agg.ID = types.NewID()
	}
	agg.ProjectID, agg.NameSHA = key.ProjectID, key.NameSHA

	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, false, err
	}
	_, err = r.exec(ctx, q, r.dialect.insertIgnoreStmt("aggregate_test_suites", []string{"id", "project_id", "name", "name_sha", "first_job_id"}),
		agg.ID, agg.ProjectID, agg.Name, agg.NameSHA, agg.FirstJobID)
	if err != nil {
		return nil, false, fmt.Errorf("could not create aggregate test suite %q: %w", agg.Name, err)
	}
	var got job.AggregateTestSuite
	err = r.queryRow(ctx, q, "SELECT id, project_id, name, name_sha, first_job_id FROM aggregate_test_suites WHERE project_id = ? AND name_sha = ?",
		key.ProjectID, key.NameSHA).Scan(&got.ID, &got.ProjectID, &got.Name, &got.NameSHA, &got.FirstJobID)
	if err != nil {
		return nil, false, fmt.Errorf("could not fetch aggregate test suite %q: %w", agg.Name, err)
	}
	return &got, got.ID == agg.ID, nil
}

// SaveTestResults stores a batch of test results in a single transaction. A
// result replaces the one stored for the same job, suite and case, which
// keeps its id and position.
func (r *RDBMS) SaveTestResults(ctx context.Context, results []*job.TestResult) error {
	for _, res := range results {
		if err := limits.Validator.ValidateTestName(res.Name); err != nil {
			return err
		}
	}
	// seq keeps the insertion order, ids are random
	seq := time.Now().UnixNano()
	return storage.WithTx(r, func(s storage.Storage) error {
		tx := s.(*RDBMS)
		tx.lockTx()
		defer tx.unlockTx()
		q, err := tx.q()
		if err != nil {
			return err
		}
		stmt := tx.dialect.upsertStmt("test_results", resultColumns,
			[]string{"job_id", "suite_id", "name_sha"},
			[]string{"name", "package", "duration", "message", "result"})
		for i, res := range results {
			if res.ID == types.NilID {
				res.ID = types.NewID()
			}
			if res.NameSHA == "" {
				res.NameSHA = job.CaseSHA(res.Package, res.Name)
			}
			_, err := tx.exec(ctx, q, stmt,
				res.ID, res.JobID, res.SuiteID, res.NameSHA, res.Name, res.Package, res.Duration, res.Message, res.Result, seq+int64(i))
			if err != nil {
				return fmt.Errorf("could not store test result %q: %w", res.Name, err)
			}
			err = tx.queryRow(ctx, q, "SELECT id FROM test_results WHERE job_id = ? AND suite_id = ? AND name_sha = ?",
				res.JobID, res.SuiteID, res.NameSHA).Scan(&res.ID)
			if err != nil {
				return fmt.Errorf("could not fetch test result %q: %w", res.Name, err)
			}
		}
		return nil
	})
}

// ListTestResults returns the test results of a job, in insertion order.
func (r *RDBMS) ListTestResults(ctx context.Context, jobID types.ID) ([]*job.TestResult, error) {
	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, err
	}
	rows, err := r.query(ctx, q,
		"SELECT id, job_id, suite_id, name_sha, name, package, duration, message, result FROM test_results WHERE job_id = ? ORDER BY seq",
		jobID)
	if err != nil {
		return nil, fmt.Errorf("could not list test results of job %s: %w", jobID, err)
	}
	defer closeRows(rows)

	var res []*job.TestResult
	for rows.Next() {
		var tr job.TestResult
		if err := rows.Scan(&tr.ID, &tr.JobID, &tr.SuiteID, &tr.NameSHA, &tr.Name, &tr.Package, &tr.Duration, &tr.Message, &tr.Result); err != nil {
			return nil, fmt.Errorf("could not list test results of job %s: %w", jobID, err)
		}
		res = append(res, &tr)
	}
	return res, rows.Err()
}
