// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package config

import "time"

// DefaultRequestTimeout is the timeout applied to every single executor request.
var DefaultRequestTimeout = 30 * time.Second

// DefaultLocateInterval is the pause between two attempts to find a job on
// the executor after it has been submitted.
var DefaultLocateInterval = 300 * time.Millisecond

// DefaultLocateTimeout bounds the time spent looking for a submitted job.
// The executor has no strong consistency guarantees and the job may not show
// up right away.
var DefaultLocateTimeout = 5 * time.Second

// DefaultLogSyncTimeout bounds the time spent draining a console log within a
// single step synchronization.
var DefaultLogSyncTimeout = 30 * time.Second

// DefaultPollInterval is the interval at which the job manager looks for
// unfinished jobs and steps.
var DefaultPollInterval = 10 * time.Second
