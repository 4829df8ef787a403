// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package job

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/facebookincubator/buildsync/pkg/types"
)

// TestSuite groups the test cases of a job that share the same suite name.
type TestSuite struct {
	ID        types.ID
	JobID     types.ID
	ProjectID types.ID
	Name      string
	NameSHA   string
}

// TestSuiteKey is the natural identity of a test suite.
type TestSuiteKey struct {
	JobID   types.ID
	NameSHA string
}

// AggregateTestSuite identifies the same suite across the jobs of a project.
type AggregateTestSuite struct {
	ID         types.ID
	ProjectID  types.ID
	Name       string
	NameSHA    string
	FirstJobID types.ID
}

// AggregateTestSuiteKey is the natural identity of an aggregate test suite.
type AggregateTestSuiteKey struct {
	ProjectID types.ID
	NameSHA   string
}

// TestResult is the result of one test case. A case is identified by its
// job, suite and NameSHA: storing it again replaces the previous result.
type TestResult struct {
	ID      types.ID
	JobID   types.ID
	SuiteID types.ID
	// NameSHA is CaseSHA(Package, Name), filled by the storage if empty.
	NameSHA string
	Name    string
	// Package is the optional package or class qualifier.
	Package string
	// Duration in milliseconds.
	Duration int64
	Message  string
	Result   Result
}

// CaseSHA returns the identity hash of a test case.
func CaseSHA(pkg, name string) string {
	if pkg == "" {
		return NameSHA(name)
	}
	return NameSHA(pkg + "." + name)
}

// NameSHA returns the identity hash of a suite name.
func NameSHA(name string) string {
	sum := sha1.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}
