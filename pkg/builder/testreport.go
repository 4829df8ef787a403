// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package builder

import (
	"context"
	"errors"
	"fmt"

	"github.com/facebookincubator/buildsync/pkg/cerrors"
	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/stats"
	"github.com/facebookincubator/buildsync/pkg/storage"
	"github.com/facebookincubator/buildsync/pkg/testreport"
)

// syncTestReport ingests the structured test report of the build of step.
// A build without report has no tests.
func (b *Builder) syncTestReport(ctx context.Context, s storage.Storage, j *job.Job, step *job.Step) error {
	report, err := b.exec.GetTestReport(ctx, step.Data.JobName, step.Data.BuildNo)
	if errors.Is(err, cerrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not fetch test report: %w", err)
	}
	return b.ingestReport(ctx, s, j, report)
}

// ingestReport stores the suites and results of report. Results are stored
// in a single batch, after all of them were mapped. Ingesting a report again
// updates the results of its cases.
func (b *Builder) ingestReport(ctx context.Context, s storage.Storage, j *job.Job, report *testreport.Report) error {
	var results []*job.TestResult
	for _, suite := range report.Suites {
		name := suite.SuiteName()
		sha := job.NameSHA(name)
		ts, _, err := s.GetOrCreateTestSuite(ctx, job.TestSuiteKey{JobID: j.ID, NameSHA: sha}, job.TestSuite{
			ProjectID: j.ProjectID,
			Name:      name,
		})
		if err != nil {
			return fmt.Errorf("could not get test suite %q: %w", name, err)
		}
		_, created, err := s.GetOrCreateAggregateTestSuite(ctx, job.AggregateTestSuiteKey{ProjectID: j.ProjectID, NameSHA: sha}, job.AggregateTestSuite{
			Name:       name,
			FirstJobID: j.ID,
		})
		if err != nil {
			return fmt.Errorf("could not get aggregate test suite %q: %w", name, err)
		}
		if created {
			log.Debugf("First run of test suite %q in project %s", name, j.ProjectID)
		}
		for _, c := range suite.Cases {
			res, err := c.Result()
			if err != nil {
				return fmt.Errorf("could not map test case %q of suite %q: %w", c.Name, name, err)
			}
			res.JobID = j.ID
			res.SuiteID = ts.ID
			res.NameSHA = job.CaseSHA(res.Package, res.Name)
			results = append(results, res)
		}
	}
	if len(results) == 0 {
		return nil
	}
	if err := s.SaveTestResults(ctx, results); err != nil {
		return fmt.Errorf("could not store %d test results: %w", len(results), err)
	}
	for range results {
		b.counter.Incr(stats.KeyTestResultsWritten)
	}
	return nil
}
