// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package builder

import (
	"context"
	"fmt"
	"io"

	"github.com/facebookincubator/buildsync/pkg/event"
	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/logchunk"
	"github.com/facebookincubator/buildsync/pkg/stats"
	"github.com/facebookincubator/buildsync/pkg/storage"
)

// syncConsoleLog drains the console log of step while the executor reports
// more data, for at most the log sync timeout. Everything written by a
// failed attempt is discarded, the next synchronization starts over from the
// last committed offset. Chunks are published once committed.
func (b *Builder) syncConsoleLog(ctx context.Context, j *job.Job, step *job.Step) error {
	offset := step.Data.LogOffset
	start := b.clock.Now()
	var stored []*job.LogChunk
	err := storage.WithTx(b.store, func(s storage.Storage) error {
		for {
			if elapsed := b.clock.Now().Sub(start); elapsed > b.logSyncTimeout {
				return fmt.Errorf("console log sync took too long (%v)", elapsed)
			}
			more, err := b.syncConsoleLogOnce(ctx, s, j, step, &stored)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
	})
	if err != nil {
		step.Data.LogOffset = offset
		return err
	}
	b.publishChunks(ctx, stored)
	return nil
}

// syncConsoleLogOnce replicates the console log of step from its last
// offset, and returns whether the executor has more data. The stored chunks
// are appended to stored.
func (b *Builder) syncConsoleLogOnce(ctx context.Context, s storage.Storage, j *job.Job, step *job.Step, stored *[]*job.LogChunk) (bool, error) {
	source, created, err := s.GetOrCreateLogSource(ctx, job.LogSourceKey{JobID: j.ID, Name: step.Label}, job.LogSource{
		ProjectID:   j.ProjectID,
		DateCreated: b.clock.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("could not get log source %q: %w", step.Label, err)
	}
	offset := step.Data.LogOffset
	if created {
		offset = 0
	}

	console, err := b.exec.GetConsoleLog(ctx, step.Data.JobName, step.Data.BuildNo, offset)
	if err != nil {
		return false, fmt.Errorf("could not fetch console log: %w", err)
	}
	defer func() {
		if err := console.Body.Close(); err != nil {
			log.Warningf("Could not close console log: %v", err)
		}
	}()

	// the log was truncated since the last time we looked at it
	if offset > console.TextSize {
		log.WithField("step_id", step.ID).Warningf("Console log offset %d is past its size %d", offset, console.TextSize)
		return false, nil
	}
	if _, err := b.replicateLog(ctx, s, source, console.Body, offset, stored); err != nil {
		return false, err
	}

	step.Data.LogOffset = console.TextSize
	if err := s.SaveStep(ctx, step); err != nil {
		return false, fmt.Errorf("could not save log offset of step %s: %w", step.ID, err)
	}
	return console.MoreData, nil
}

// replicateLog stores r as chunks of source starting at offset, and returns
// the offset following the last chunk. Chunks are upserted by offset, so
// replicating the same text twice stores it once. The stored chunks are
// appended to stored, to be published once s is committed.
func (b *Builder) replicateLog(ctx context.Context, s storage.Storage, source *job.LogSource, r io.Reader, offset int64, stored *[]*job.LogChunk) (int64, error) {
	cr, err := logchunk.NewReader(r, b.sync.LogChunkSize, offset)
	if err != nil {
		return offset, err
	}
	for {
		chunk, err := cr.Next()
		if err == io.EOF {
			return cr.Offset(), nil
		}
		if err != nil {
			return cr.Offset(), fmt.Errorf("could not read log %q: %w", source.Name, err)
		}
		c, err := s.UpsertLogChunk(ctx, job.LogChunk{
			SourceID:  source.ID,
			JobID:     source.JobID,
			ProjectID: source.ProjectID,
			Offset:    chunk.Offset,
			Size:      chunk.Size(),
			Text:      string(chunk.Text),
		})
		if err != nil {
			return cr.Offset(), fmt.Errorf("could not store chunk of log %q at offset %d: %w", source.Name, chunk.Offset, err)
		}
		*stored = append(*stored, c)
	}
}

// publishChunks announces chunks that were committed to the storage.
func (b *Builder) publishChunks(ctx context.Context, chunks []*job.LogChunk) {
	for _, chunk := range chunks {
		b.counter.Incr(stats.KeyLogChunksWritten)
		ev, err := event.NewLogChunkEvent(chunk, b.clock.Now().UTC())
		if err == nil {
			err = b.publisher.Publish(ctx, ev)
		}
		if err != nil {
			log.Warningf("Could not publish log chunk %s: %v", chunk.ID, err)
		}
	}
}
