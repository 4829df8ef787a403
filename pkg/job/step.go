// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package job

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/facebookincubator/buildsync/pkg/types"
)

// Phase groups the steps of a job that belong to the same executor job name.
// Its status, result and dates are always derived from its steps.
type Phase struct {
	ID        types.ID
	JobID     types.ID
	ProjectID types.ID
	Label     string

	Status       Status
	Result       Result
	DateCreated  time.Time
	DateStarted  *time.Time
	DateFinished *time.Time
}

// PhaseKey is the natural identity of a phase.
type PhaseKey struct {
	JobID types.ID
	Label string
}

// StepData is the executor-side state of a step.
type StepData struct {
	JobName string `json:"job_name"`
	BuildNo int    `json:"build_no"`
	// LogOffset is the resume point of the console log replication.
	LogOffset int64 `json:"log_offset"`
}

// Value implements driver.Valuer, StepData is stored as JSON.
func (d StepData) Value() (driver.Value, error) {
	return marshalValue(d)
}

// Scan implements sql.Scanner.
func (d *StepData) Scan(src interface{}) error {
	return unmarshalValue(src, d)
}

// Step maps one-to-one to a single executor build.
type Step struct {
	ID        types.ID
	JobID     types.ID
	PhaseID   types.ID
	ProjectID types.ID
	NodeID    types.ID
	Label     string

	Status       Status
	Result       Result
	Data         StepData
	DateCreated  time.Time
	DateStarted  *time.Time
	DateFinished *time.Time
}

// StepKey is the natural identity of a step.
type StepKey struct {
	JobID   types.ID
	PhaseID types.ID
	Label   string
}

// StepLabel returns the label identifying the step of a given executor build.
func StepLabel(jobName string, buildNo int) string {
	return fmt.Sprintf("%s #%d", jobName, buildNo)
}

// Apply copies the status, result and dates of a step onto its phase.
func (p *Phase) Apply(step *Step) {
	p.Status = step.Status
	p.Result = step.Result
	p.DateStarted = step.DateStarted
	p.DateFinished = step.DateFinished
}

// Node is a worker machine reported by the executor.
type Node struct {
	ID    types.ID
	Label string
}
