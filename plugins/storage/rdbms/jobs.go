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
	"github.com/facebookincubator/buildsync/pkg/storage"
	"github.com/facebookincubator/buildsync/pkg/types"
)

var jobColumns = []string{
	"id", "project_id", "status", "result", "data", "revision_sha", "patch",
	"date_created", "date_started", "date_finished",
}

func scanJob(row scanner) (*job.Job, error) {
	var (
		j                         job.Job
		dateStarted, dateFinished sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.ProjectID, &j.Status, &j.Result, &j.Data,
		&j.Source.RevisionSHA, &j.Source.Patch,
		&j.DateCreated, &dateStarted, &dateFinished,
	)
	if err != nil {
		return nil, err
	}
	j.DateCreated = j.DateCreated.UTC()
	j.DateStarted = timePtr(dateStarted)
	j.DateFinished = timePtr(dateFinished)
	return &j, nil
}

// GetJob returns the job with the given ID.
func (r *RDBMS) GetJob(ctx context.Context, jobID types.ID) (*job.Job, error) {
	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM jobs WHERE id = ?", strings.Join(jobColumns, ", "))
	j, err := scanJob(r.queryRow(ctx, q, stmt, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("job", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("could not fetch job %s: %w", jobID, err)
	}
	return j, nil
}

// SaveJob inserts or updates a job.
func (r *RDBMS) SaveJob(ctx context.Context, j *job.Job) error {
	if j.ID == types.NilID {
		return errors.New("cannot save a job without ID")
	}
	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return err
	}
	stmt := r.dialect.upsertStmt("jobs", jobColumns, []string{"id"}, jobColumns[1:])
	_, err = r.exec(ctx, q, stmt,
		j.ID, j.ProjectID, j.Status, j.Result, j.Data, j.Source.RevisionSHA, j.Source.Patch,
		j.DateCreated.UTC(), nullTime(j.DateStarted), nullTime(j.DateFinished),
	)
	if err != nil {
		return fmt.Errorf("could not save job %s: %w", j.ID, err)
	}
	return nil
}

// ListJobs returns the jobs matching the query, oldest first.
func (r *RDBMS) ListJobs(ctx context.Context, query *storage.JobQuery) ([]*job.Job, error) {
	// Construct the query.
	parts := []string{fmt.Sprintf("SELECT %s FROM jobs", strings.Join(jobColumns, ", "))}
	qargs := []interface{}{}
	var conds []string
	if query != nil {
		if len(query.Statuses) > 0 {
			conds = append(conds, "status IN ("+placeholders(len(query.Statuses))+")")
			for _, st := range query.Statuses {
				qargs = append(qargs, st)
			}
		}
		if query.ProjectID != types.NilID {
			conds = append(conds, "project_id = ?")
			qargs = append(qargs, query.ProjectID)
		}
	}
	if len(conds) > 0 {
		parts = append(parts, "WHERE", strings.Join(conds, " AND "))
	}
	/* Examples of the resulting queries:
	SELECT ... FROM jobs ORDER BY date_created, id
	SELECT ... FROM jobs WHERE status IN (?, ?) ORDER BY date_created, id
	SELECT ... FROM jobs WHERE status IN (?) AND project_id = ? ORDER BY date_created, id
	*/
	parts = append(parts, "ORDER BY date_created, id")
	stmt := strings.Join(parts, " ")

	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, err
	}
	rows, err := r.query(ctx, q, stmt, qargs...)
	if err != nil {
		return nil, fmt.Errorf("could not list jobs (sql: %q): %w", stmt, err)
	}
	defer closeRows(rows)

	var res []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("could not list jobs (sql: %q): %w", stmt, err)
		}
		res = append(res, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not list jobs (sql: %q): %w", stmt, err)
	}
	return res, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
