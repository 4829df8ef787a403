// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package rdbms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/storage/limits"
	"github.com/facebookincubator/buildsync/pkg/types"
)

// Console sources are not attached to a step, their step_id holds the nil ID
// so that the unique key on (job_id, step_id, name) applies to them as well.
var sourceColumns = []string{"id", "job_id", "step_id", "project_id", "name", "date_created"}

var chunkColumns = []string{"id", "source_id", "job_id", "project_id", "chunk_offset", "chunk_size", "chunk_text"}

func scanSource(row scanner) (*job.LogSource, error) {
	var src job.LogSource
	if err := row.Scan(&src.ID, &src.JobID, &src.StepID, &src.ProjectID, &src.Name, &src.DateCreated); err != nil {
		return nil, err
	}
	src.DateCreated = src.DateCreated.UTC()
	return &src, nil
}

func scanChunk(row scanner) (*job.LogChunk, error) {
	var c job.LogChunk
	if err := row.Scan(&c.ID, &c.SourceID, &c.JobID, &c.ProjectID, &c.Offset, &c.Size, &c.Text); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *RDBMS) selectSource(ctx context.Context, q querier, cond string, args ...interface{}) (*job.LogSource, error) {
	stmt := fmt.Sprintf("SELECT %s FROM log_sources WHERE %s", strings.Join(sourceColumns, ", "), cond)
	return scanSource(r.queryRow(ctx, q, stmt, args...))
}

// GetOrCreateLogSource returns the log source identified by key, creating it
// if needed.
func (r *RDBMS) GetOrCreateLogSource(ctx context.Context, key job.LogSourceKey, defaults job.LogSource) (*job.LogSource, bool, error) {
	if err := limits.Validator.ValidateLogSourceName(key.Name); err != nil {
		return nil, false, err
	}
	src := defaults
	if src.ID == types.NilID {
		src.ID = types.NewID()
	}
	src.JobID, src.StepID, src.Name = key.JobID, key.StepID, key.Name

	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, false, err
	}
	_, err = r.exec(ctx, q, r.dialect.insertIgnoreStmt("log_sources", sourceColumns),
		src.ID, src.JobID, src.StepID, src.ProjectID, src.Name, src.DateCreated.UTC())
	if err != nil {
		return nil, false, fmt.Errorf("could not create log source %q: %w", key.Name, err)
	}
	got, err := r.selectSource(ctx, q, "job_id = ? AND step_id = ? AND name = ?", key.JobID, key.StepID, key.Name)
	if err != nil {
		return nil, false, fmt.Errorf("could not fetch log source %q: %w", key.Name, err)
	}
	return got, got.ID == src.ID, nil
}

// GetLogSource returns the log source with the given ID.
func (r *RDBMS) GetLogSource(ctx context.Context, sourceID types.ID) (*job.LogSource, error) {
	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, err
	}
	src, err := r.selectSource(ctx, q, "id = ?", sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("log source", sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("could not fetch log source %s: %w", sourceID, err)
	}
	return src, nil
}

// ListLogSources returns the log sources of a job, ordered by name.
func (r *RDBMS) ListLogSources(ctx context.Context, jobID types.ID) ([]*job.LogSource, error) {
	stmt := fmt.Sprintf("SELECT %s FROM log_sources WHERE job_id = ? ORDER BY name", strings.Join(sourceColumns, ", "))
	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, err
	}
	rows, err := r.query(ctx, q, stmt, jobID)
	if err != nil {
		return nil, fmt.Errorf("could not list log sources of job %s: %w", jobID, err)
	}
	defer closeRows(rows)

	var res []*job.LogSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("could not list log sources of job %s: %w", jobID, err)
		}
		res = append(res, src)
	}
	return res, rows.Err()
}

// UpsertLogChunk creates or updates the chunk at (source, offset). An existing
// chunk keeps its ID.
func (r *RDBMS) UpsertLogChunk(ctx context.Context, chunk job.LogChunk) (*job.LogChunk, error) {
	if chunk.ID == types.NilID {
		chunk.ID = types.NewID()
	}
	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, err
	}
	if err := r.exists(ctx, q, "log_sources", "log source", chunk.SourceID); err != nil {
		return nil, err
	}
	stmt := r.dialect.upsertStmt("log_chunks", chunkColumns,
		[]string{"source_id", "chunk_offset"},
		[]string{"job_id", "project_id", "chunk_size", "chunk_text"})
	_, err = r.exec(ctx, q, stmt,
		chunk.ID, chunk.SourceID, chunk.JobID, chunk.ProjectID, chunk.Offset, chunk.Size, []byte(chunk.Text))
	if err != nil {
		return nil, fmt.Errorf("could not store log chunk at offset %d: %w", chunk.Offset, err)
	}
	stmt = fmt.Sprintf("SELECT %s FROM log_chunks WHERE source_id = ? AND chunk_offset = ?", strings.Join(chunkColumns, ", "))
	got, err := scanChunk(r.queryRow(ctx, q, stmt, chunk.SourceID, chunk.Offset))
	if err != nil {
		return nil, fmt.Errorf("could not fetch log chunk at offset %d: %w", chunk.Offset, err)
	}
	return got, nil
}

// ListLogChunks returns the chunks of a source ending after fromOffset.
func (r *RDBMS) ListLogChunks(ctx context.Context, sourceID types.ID, fromOffset int64) ([]*job.LogChunk, error) {
	stmt := fmt.Sprintf(
		"SELECT %s FROM log_chunks WHERE source_id = ? AND chunk_offset + chunk_size > ? ORDER BY chunk_offset",
		strings.Join(chunkColumns, ", "))
	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, err
	}
	rows, err := r.query(ctx, q, stmt, sourceID, fromOffset)
	if err != nil {
		return nil, fmt.Errorf("could not list log chunks of source %s: %w", sourceID, err)
	}
	defer closeRows(rows)

	var res []*job.LogChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("could not list log chunks of source %s: %w", sourceID, err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
