// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package job

import (
	"time"

	"github.com/facebookincubator/buildsync/pkg/types"
)

// LogSource is a named log stream of a job, e.g. the console of a step or a
// log file archived as artifact.
type LogSource struct {
	ID        types.ID
	JobID     types.ID
	StepID    types.ID
	ProjectID types.ID
	Name      string

	DateCreated time.Time
}

// LogSourceKey is the natural identity of a log source. Console logs are
// keyed by (JobID, Name) and leave StepID nil, artifact logs are keyed by
// (JobID, StepID, Name).
type LogSourceKey struct {
	JobID  types.ID
	StepID types.ID
	Name   string
}

// LogChunk is an immutable byte range of a log source.
type LogChunk struct {
	ID        types.ID
	SourceID  types.ID
	JobID     types.ID
	ProjectID types.ID
	Offset    int64
	Size      int
	Text      string
}

// LogChunkKey is the natural identity of a log chunk.
type LogChunkKey struct {
	SourceID types.ID
	Offset   int64
}

// End returns the offset right after the chunk.
func (c *LogChunk) End() int64 {
	return c.Offset + int64(c.Size)
}
