// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package job

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/facebookincubator/buildsync/pkg/types"
)

// Source describes what the executor should build.
type Source struct {
	// RevisionSHA is the revision to check out, if any.
	RevisionSHA string
	// Patch is an optional diff to apply on top of the revision.
	Patch []byte
}

// Data is the executor-side state of a job. It is filled by the dispatcher
// once the job has been located on the executor and advanced by the
// synchronizer.
type Data struct {
	JobName string `json:"job_name"`
	// Queued is true as long as the job is known by its queue item only.
	Queued bool   `json:"queued"`
	ItemID string `json:"item_id,omitempty"`
	// BuildNo is zero until the executor assigned a build number.
	BuildNo int `json:"build_no,omitempty"`
}

// Value implements driver.Valuer, Data is stored as JSON.
func (d Data) Value() (driver.Value, error) {
	return marshalValue(d)
}

// Scan implements sql.Scanner.
func (d *Data) Scan(src interface{}) error {
	return unmarshalValue(src, d)
}

// Job is one build execution request submitted to the executor. Jobs are
// created by the surrounding build system, only their status, result, dates
// and Data are written by the synchronization engine.
type Job struct {
	ID        types.ID
	ProjectID types.ID

	Status Status
	Result Result
	Data   Data
	Source Source

	DateCreated  time.Time
	DateStarted  *time.Time
	DateFinished *time.Time
}

// New returns a new job for the given project.
func New(projectID types.ID, source Source) *Job {
	return &Job{
		ID:          types.NewID(),
		ProjectID:   projectID,
		Source:      source,
		DateCreated: time.Now().UTC(),
	}
}

// Token returns the correlation token used to find the job on the executor
// after an asynchronous submission.
func (j *Job) Token() string {
	return types.Hex(j.ID)
}

// Finish marks the job as finished with the given result.
func (j *Job) Finish(result Result, when time.Time) {
	j.Status = StatusFinished
	j.Result = result
	if j.DateFinished == nil {
		j.DateFinished = &when
	}
}

func (j *Job) String() string {
	return fmt.Sprintf("job %s (%s/%s)", types.Hex(j.ID), j.Status, j.Result)
}

func marshalValue(v interface{}) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalValue(src interface{}, v interface{}) error {
	switch data := src.(type) {
	case nil:
		return nil
	case string:
		return json.Unmarshal([]byte(data), v)
	case []byte:
		return json.Unmarshal(data, v)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, v)
	}
}
