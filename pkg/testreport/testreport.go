// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package testreport holds the structured test reports produced by the
// executor and their conversion to job.TestResult values.
package testreport

import (
	"strings"

	"github.com/facebookincubator/buildsync/pkg/cerrors"
	"github.com/facebookincubator/buildsync/pkg/job"
)

// DefaultSuiteName is used for suites reported without a name.
const DefaultSuiteName = "default"

// Case statuses as reported by the executor.
const (
	StatusPassed     = "PASSED"
	StatusFixed      = "FIXED"
	StatusFailed     = "FAILED"
	StatusRegression = "REGRESSION"
	StatusSkipped    = "SKIPPED"
)

// Report is a structured test report.
type Report struct {
	Suites []Suite `json:"suites"`
}

// Suite is a named group of test cases.
type Suite struct {
	Name  string `json:"name"`
	Cases []Case `json:"cases"`
}

// SuiteName returns the name of the suite, or DefaultSuiteName.
func (s *Suite) SuiteName() string {
	if s.Name == "" {
		return DefaultSuiteName
	}
	return s.Name
}

// Case is a single test case.
type Case struct {
	Name      string `json:"name"`
	ClassName string `json:"className"`
	// Duration is in seconds.
	Duration        float64 `json:"duration"`
	Status          string  `json:"status"`
	ErrorDetails    string  `json:"errorDetails"`
	ErrorStackTrace string  `json:"errorStackTrace"`
	SkippedMessage  string  `json:"skippedMessage"`
}

// ResultFromStatus maps a case status to a result. Unknown statuses are
// reported as *cerrors.InvalidResultError.
func ResultFromStatus(status string) (job.Result, error) {
	switch status {
	case StatusPassed, StatusFixed:
		return job.ResultPassed, nil
	case StatusFailed, StatusRegression:
		return job.ResultFailed, nil
	case StatusSkipped:
		return job.ResultSkipped, nil
	}
	return job.ResultUnknown, &cerrors.InvalidResultError{Kind: "test result", Value: status}
}

// Message assembles the free-text message of a case from its error detail,
// stack trace and skip reason.
func (c *Case) Message() string {
	var parts []string
	if c.ErrorDetails != "" {
		parts = append(parts, "Error\n-----", c.ErrorDetails+"\n")
	}
	if c.ErrorStackTrace != "" {
		parts = append(parts, "Stacktrace\n----------", c.ErrorStackTrace+"\n")
	}
	if c.SkippedMessage != "" {
		parts = append(parts, c.SkippedMessage+"\n")
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// DurationMillis returns the duration of the case in whole milliseconds,
// truncated.
func (c *Case) DurationMillis() int64 {
	return int64(c.Duration * 1000)
}

// Result converts the case to a job.TestResult. IDs are left for the caller
// to fill.
func (c *Case) Result() (*job.TestResult, error) {
	result, err := ResultFromStatus(c.Status)
	if err != nil {
		return nil, err
	}
	return &job.TestResult{
		Name:     c.Name,
		Package:  c.ClassName,
		Duration: c.DurationMillis(),
		Message:  c.Message(),
		Result:   result,
	}, nil
}
