// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package job

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state of a job, phase or step.
//
//	queued -> in_progress -> finished
//	queued -> finished (aborted or lost by the executor)
type Status int

// List of statuses.
const (
	StatusUnknown Status = iota
	StatusQueued
	StatusInProgress
	StatusFinished
)

// StatusToName maps statuses to their names.
var StatusToName = map[Status]string{
	StatusUnknown:    "unknown",
	StatusQueued:     "queued",
	StatusInProgress: "in_progress",
	StatusFinished:   "finished",
}

func (s Status) String() string {
	if name, ok := StatusToName[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus returns the Status with the given name.
func ParseStatus(name string) (Status, error) {
	for s, n := range StatusToName {
		if n == name {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("invalid status %q", name)
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Value implements driver.Valuer, statuses are stored by name.
func (s Status) Value() (driver.Value, error) {
	return s.String(), nil
}

// Scan implements sql.Scanner.
func (s *Status) Scan(src interface{}) error {
	name, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Result is the outcome of a finished job, phase, step or test case.
type Result int

// List of results.
const (
	ResultUnknown Result = iota
	ResultPassed
	ResultFailed
	ResultAborted
	ResultSkipped
)

// ResultToName maps results to their names.
var ResultToName = map[Result]string{
	ResultUnknown: "unknown",
	ResultPassed:  "passed",
	ResultFailed:  "failed",
	ResultAborted: "aborted",
	ResultSkipped: "skipped",
}

func (r Result) String() string {
	if name, ok := ResultToName[r]; ok {
		return name
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// ParseResult returns the Result with the given name.
func ParseResult(name string) (Result, error) {
	for r, n := range ResultToName {
		if n == name {
			return r, nil
		}
	}
	return ResultUnknown, fmt.Errorf("invalid result %q", name)
}

// MarshalJSON implements json.Marshaler.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Result) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, err := ParseResult(name)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Value implements driver.Valuer, results are stored by name.
func (r Result) Value() (driver.Value, error) {
	return r.String(), nil
}

// Scan implements sql.Scanner.
func (r *Result) Scan(src interface{}) error {
	name, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParseResult(name)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func scanString(src interface{}) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("cannot scan %T into a string", src)
	}
}
