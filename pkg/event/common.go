// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package event

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/types"
)

// AllowedEventFormat defines the allowed format for an event
var AllowedEventFormat = regexp.MustCompile(`^[a-zA-Z]+$`)

// Name is a custom type which represents the name of an event
type Name string

// LogChunkEventName is the name of the event emitted for every persisted
// log chunk.
var LogChunkEventName = Name("LogChunk")

// ErrInvalidEventName is returned for names outside of AllowedEventFormat.
type ErrInvalidEventName struct {
	EventName Name
}

func (err ErrInvalidEventName) Error() string {
	return fmt.Sprintf("invalid event name %q, must match %s", err.EventName, AllowedEventFormat)
}

// Validate validates that the event name conforms with the events API
func (e Name) Validate() error {
	matched := AllowedEventFormat.MatchString(string(e))
	if !matched {
		return ErrInvalidEventName{EventName: e}
	}
	return nil
}

// Event is a notification about a change of the persisted build state.
type Event struct {
	Name     Name             `json:"name"`
	JobID    types.ID         `json:"job_id"`
	EmitTime time.Time        `json:"emit_time"`
	Payload  *json.RawMessage `json:"payload,omitempty"`
}

// LogChunkPayload is the payload of a LogChunk event.
type LogChunkPayload struct {
	ID       types.ID `json:"id"`
	SourceID types.ID `json:"source_id"`
	Offset   int64    `json:"offset"`
	Size     int      `json:"size"`
	Text     string   `json:"text"`
}

// NewLogChunkEvent builds the event announcing a persisted chunk.
func NewLogChunkEvent(chunk *job.LogChunk, emitTime time.Time) (Event, error) {
	payload, err := json.Marshal(LogChunkPayload{
		ID:       chunk.ID,
		SourceID: chunk.SourceID,
		Offset:   chunk.Offset,
		Size:     chunk.Size,
		Text:     chunk.Text,
	})
	if err != nil {
		return Event{}, fmt.Errorf("could not encode log chunk payload: %w", err)
	}
	raw := json.RawMessage(payload)
	return Event{
		Name:     LogChunkEventName,
		JobID:    chunk.JobID,
		EmitTime: emitTime,
		Payload:  &raw,
	}, nil
}
