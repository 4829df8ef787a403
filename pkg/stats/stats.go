// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package stats defines the counters hook used across buildsync.
package stats

// Counter increments named counters.
type Counter interface {
	Incr(key string)
}

// Counter keys.
const (
	// KeyAPIResponse is suffixed with the HTTP status code of executor responses.
	KeyAPIResponse        = "executor_api_response_"
	KeyLogChunksWritten   = "log_chunks_written"
	KeyJobsCreated        = "jobs_created"
	KeyStepsSynced        = "steps_synced"
	KeyTestResultsWritten = "test_results_written"
	// KeySyncFailure is suffixed with the kind of failure.
	KeySyncFailure = "sync_failure_"
)

// Nop is a Counter that does nothing.
type Nop struct{}

// Incr implements Counter.
func (Nop) Incr(string) {}
