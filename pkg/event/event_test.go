// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/types"
)

func TestNameValidate(t *testing.T) {
	require.NoError(t, LogChunkEventName.Validate())
	err := Name("log chunk").Validate()
	require.Error(t, err)
	require.IsType(t, ErrInvalidEventName{}, err)
}

func TestNewLogChunkEvent(t *testing.T) {
	chunk := &job.LogChunk{ID: types.NewID(), SourceID: types.NewID(), JobID: types.NewID(), Offset: 4, Size: 3, Text: "\nef"}
	now := time.Unix(1600000000, 0).UTC()
	ev, err := NewLogChunkEvent(chunk, now)
	require.NoError(t, err)
	require.Equal(t, LogChunkEventName, ev.Name)
	require.Equal(t, chunk.JobID, ev.JobID)
	require.Equal(t, now, ev.EmitTime)

	var payload LogChunkPayload
	require.NoError(t, json.Unmarshal(*ev.Payload, &payload))
	require.Equal(t, LogChunkPayload{ID: chunk.ID, SourceID: chunk.SourceID, Offset: 4, Size: 3, Text: "\nef"}, payload)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Publish(context.Background(), Event{Name: LogChunkEventName}))
	require.Error(t, r.Publish(context.Background(), Event{Name: "bad name"}))
	require.Len(t, r.Events(), 1)
	require.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}
