// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package executor

import (
	"fmt"
	"io"
	"time"
)

// Parameter is a build parameter as reported by the executor.
type Parameter struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value,omitempty"`
}

// Action is an entry of the "actions" list of queue items and builds. Only
// the parameters action carries data we care about.
type Action struct {
	Parameters []Parameter `json:"parameters,omitempty"`
}

// Actions is the list of actions attached to a queue item or build.
type Actions []Action

// Parameter returns the string value of the named parameter across all the
// actions, and whether it was found.
func (a Actions) Parameter(name string) (string, bool) {
	for _, action := range a {
		for _, p := range action.Parameters {
			if p.Name != name {
				continue
			}
			switch v := p.Value.(type) {
			case string:
				return v, true
			case nil:
				return "", true
			default:
				return fmt.Sprintf("%v", v), true
			}
		}
	}
	return "", false
}

// HasParameter returns true if the named parameter has the given value.
func (a Actions) HasParameter(name, value string) bool {
	v, ok := a.Parameter(name)
	return ok && v == value
}

// Executable references the build started from a queue item.
type Executable struct {
	Number int `json:"number"`
}

// QueueItem is an entry of the executor's build queue.
type QueueItem struct {
	ID         int         `json:"id"`
	Blocked    bool        `json:"blocked"`
	Cancelled  bool        `json:"cancelled"`
	Executable *Executable `json:"executable"`
	Actions    Actions     `json:"actions"`
}

// Queue is the executor's build queue.
type Queue struct {
	Items []QueueItem `json:"items"`
}

// Artifact is a file archived by a build.
type Artifact struct {
	FileName     string `json:"fileName"`
	DisplayPath  string `json:"displayPath"`
	RelativePath string `json:"relativePath"`
}

// Build is the detail of one executor build.
type Build struct {
	Number          int     `json:"number"`
	BuiltOn         string  `json:"builtOn"`
	FullDisplayName string  `json:"fullDisplayName"`
	Building        bool    `json:"building"`
	Result          *string `json:"result"`
	// Timestamp is the start of the build, in milliseconds since the epoch.
	Timestamp int64 `json:"timestamp"`
	// Duration is in milliseconds.
	Duration  int64      `json:"duration"`
	Artifacts []Artifact `json:"artifacts"`
	Actions   Actions    `json:"actions"`
}

// StartTime returns the start of the build.
func (b *Build) StartTime() time.Time {
	return time.Unix(0, b.Timestamp*int64(time.Millisecond)).UTC()
}

// FinishTime returns the end of the build, computed as start plus duration.
func (b *Build) FinishTime() time.Time {
	return time.Unix(0, (b.Timestamp+b.Duration)*int64(time.Millisecond)).UTC()
}

// BuildList is the list of builds of an executor job.
type BuildList struct {
	Builds []Build `json:"builds"`
}

// ConsoleLog is a slice of a build's console output starting at a requested
// offset. Body must be closed by the caller.
type ConsoleLog struct {
	Body io.ReadCloser
	// TextSize is the total size of the log as reported by the executor.
	TextSize int64
	// MoreData is true while the executor may append to the log.
	MoreData bool
}

// BuildParameter is a parameter of a build submission. File parameters
// name the multipart field holding their content in File.
type BuildParameter struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
	File  string `json:"file,omitempty"`
}

// TriggerRequest holds the parameters of a build submission.
type TriggerRequest struct {
	JobName    string
	Parameters []BuildParameter
	// Files are sent as multipart file fields, keyed by field name.
	Files map[string][]byte
}
