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
	"github.com/facebookincubator/buildsync/pkg/storage/limits"
	"github.com/facebookincubator/buildsync/pkg/types"
)

var phaseColumns = []string{
	"id", "job_id", "project_id", "label", "status", "result",
	"date_created", "date_started", "date_finished",
}

var stepColumns = []string{
	"id", "job_id", "phase_id", "project_id", "node_id", "label", "status", "result", "data",
	"date_created", "date_started", "date_finished",
}

func scanPhase(row scanner) (*job.Phase, error) {
	var (
		p                         job.Phase
		dateStarted, dateFinished sql.NullTime
	)
	err := row.Scan(&p.ID, &p.JobID, &p.ProjectID, &p.Label, &p.Status, &p.Result,
		&p.DateCreated, &dateStarted, &dateFinished)
	if err != nil {
		return nil, err
	}
	p.DateCreated = p.DateCreated.UTC()
	p.DateStarted = timePtr(dateStarted)
	p.DateFinished = timePtr(dateFinished)
	return &p, nil
}

func scanStep(row scanner) (*job.Step, error) {
	var (
		st                        job.Step
		dateStarted, dateFinished sql.NullTime
	)
	err := row.Scan(&st.ID, &st.JobID, &st.PhaseID, &st.ProjectID, &st.NodeID, &st.Label,
		&st.Status, &st.Result, &st.Data, &st.DateCreated, &dateStarted, &dateFinished)
	if err != nil {
		return nil, err
	}
	st.DateCreated = st.DateCreated.UTC()
	st.DateStarted = timePtr(dateStarted)
	st.DateFinished = timePtr(dateFinished)
	return &st, nil
}

func (r *RDBMS) selectPhase(ctx context.Context, q querier, cond string, args ...interface{}) (*job.Phase, error) {
	stmt := fmt.Sprintf("SELECT %s FROM job_phases WHERE %s", strings.Join(phaseColumns, ", "), cond)
	return scanPhase(r.queryRow(ctx, q, stmt, args...))
}

func (r *RDBMS) selectStep(ctx context.Context, q querier, cond string, args ...interface{}) (*job.Step, error) {
	stmt := fmt.Sprintf("SELECT %s FROM job_steps WHERE %s", strings.Join(stepColumns, ", "), cond)
	return scanStep(r.queryRow(ctx, q, stmt, args...))
}

// GetOrCreatePhase returns the phase identified by key, creating it if needed.
func (r *RDBMS) GetOrCreatePhase(ctx context.Context, key job.PhaseKey, defaults job.Phase) (*job.Phase, bool, error) {
	if err := limits.Validator.ValidateLabel(key.Label); err != nil {
		return nil, false, err
	}
	p := defaults
	if p.ID == types.NilID {
		p.ID = types.NewID()
	}
	p.JobID, p.Label = key.JobID, key.Label

	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, false, err
	}
	_, err = r.exec(ctx, q, r.dialect.insertIgnoreStmt("job_phases", phaseColumns),
		p.ID, p.JobID, p.ProjectID, p.Label, p.Status, p.Result,
		p.DateCreated.UTC(), nullTime(p.DateStarted), nullTime(p.DateFinished))
	if err != nil {
		return nil, false, fmt.Errorf("could not create phase %q: %w", key.Label, err)
	}
	got, err := r.selectPhase(ctx, q, "job_id = ? AND label = ?", key.JobID, key.Label)
	if err != nil {
		return nil, false, fmt.Errorf("could not fetch phase %q: %w", key.Label, err)
	}
	return got, got.ID == p.ID, nil
}

// GetPhase returns the phase with the given ID.
func (r *RDBMS) GetPhase(ctx context.Context, phaseID types.ID) (*job.Phase, error) {
	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, err
	}
	p, err := r.selectPhase(ctx, q, "id = ?", phaseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("phase", phaseID)
	}
	if err != nil {
		return nil, fmt.Errorf("could not fetch phase %s: %w", phaseID, err)
	}
	return p, nil
}

// SavePhase updates an existing phase.
func (r *RDBMS) SavePhase(ctx context.Context, phase *job.Phase) error {
	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return err
	}
	if err := r.exists(ctx, q, "job_phases", "phase", phase.ID); err != nil {
		return err
	}
	_, err = r.exec(ctx, q,
		"UPDATE job_phases SET status = ?, result = ?, date_started = ?, date_finished = ? WHERE id = ?",
		phase.Status, phase.Result, nullTime(phase.DateStarted), nullTime(phase.DateFinished), phase.ID)
	if err != nil {
		return fmt.Errorf("could not save phase %s: %w", phase.ID, err)
	}
	return nil
}

// GetOrCreateStep returns the step identified by key, creating it if needed.
func (r *RDBMS) GetOrCreateStep(ctx context.Context, key job.StepKey, defaults job.Step) (*job.Step, bool, error) {
	if err := limits.Validator.ValidateLabel(key.Label); err != nil {
		return nil, false, err
	}
	st := defaults
	if st.ID == types.NilID {
		st.ID = types.NewID()
	}
	st.JobID, st.PhaseID, st.Label = key.JobID, key.PhaseID, key.Label

	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, false, err
	}
	_, err = r.exec(ctx, q, r.dialect.insertIgnoreStmt("job_steps", stepColumns),
		st.ID, st.JobID, st.PhaseID, st.ProjectID, st.NodeID, st.Label, st.Status, st.Result, st.Data,
		st.DateCreated.UTC(), nullTime(st.DateStarted), nullTime(st.DateFinished))
	if err != nil {
		return nil, false, fmt.Errorf("could not create step %q: %w", key.Label, err)
	}
	got, err := r.selectStep(ctx, q, "job_id = ? AND phase_id = ? AND label = ?", key.JobID, key.PhaseID, key.Label)
	if err != nil {
		return nil, false, fmt.Errorf("could not fetch step %q: %w", key.Label, err)
	}
	return got, got.ID == st.ID, nil
}

// GetStep returns the step with the given ID.
func (r *RDBMS) GetStep(ctx context.Context, stepID types.ID) (*job.Step, error) {
	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, err
	}
	st, err := r.selectStep(ctx, q, "id = ?", stepID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("step", stepID)
	}
	if err != nil {
		return nil, fmt.Errorf("could not fetch step %s: %w", stepID, err)
	}
	return st, nil
}

// SaveStep updates an existing step, including its label.
func (r *RDBMS) SaveStep(ctx context.Context, step *job.Step) error {
	if err := limits.Validator.ValidateLabel(step.Label); err != nil {
		return err
	}
	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return err
	}
	if err := r.exists(ctx, q, "job_steps", "step", step.ID); err != nil {
		return err
	}
	_, err = r.exec(ctx, q,
		"UPDATE job_steps SET phase_id = ?, node_id = ?, label = ?, status = ?, result = ?, data = ?, date_started = ?, date_finished = ? WHERE id = ?",
		step.PhaseID, step.NodeID, step.Label, step.Status, step.Result, step.Data,
		nullTime(step.DateStarted), nullTime(step.DateFinished), step.ID)
	if err != nil {
		return fmt.Errorf("could not save step %s: %w", step.ID, err)
	}
	return nil
}

// ListSteps returns the steps matching the query, ordered by creation date.
func (r *RDBMS) ListSteps(ctx context.Context, query *storage.StepQuery) ([]*job.Step, error) {
	parts := []string{fmt.Sprintf("SELECT %s FROM job_steps", strings.Join(stepColumns, ", "))}
	qargs := []interface{}{}
	var conds []string
	if query != nil {
		if len(query.Statuses) > 0 {
			conds = append(conds, "status IN ("+placeholders(len(query.Statuses))+")")
			for _, st := range query.Statuses {
				qargs = append(qargs, st)
			}
		}
		if query.JobID != types.NilID {
			conds = append(conds, "job_id = ?")
			qargs = append(qargs, query.JobID)
		}
	}
	if len(conds) > 0 {
		parts = append(parts, "WHERE", strings.Join(conds, " AND "))
	}
	parts = append(parts, "ORDER BY date_created, label")
	stmt := strings.Join(parts, " ")

	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, err
	}
	rows, err := r.query(ctx, q, stmt, qargs...)
	if err != nil {
		return nil, fmt.Errorf("could not list steps (sql: %q): %w", stmt, err)
	}
	defer closeRows(rows)

	var res []*job.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("could not list steps (sql: %q): %w", stmt, err)
		}
		res = append(res, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not list steps (sql: %q): %w", stmt, err)
	}
	return res, nil
}

// GetOrCreateNode returns the node with the given label, creating it if needed.
func (r *RDBMS) GetOrCreateNode(ctx context.Context, label string) (*job.Node, bool, error) {
	if err := limits.Validator.ValidateLabel(label); err != nil {
		return nil, false, err
	}
	id := types.NewID()

	r.lockTx()
	defer r.unlockTx()
	q, err := r.q()
	if err != nil {
		return nil, false, err
	}
	if _, err := r.exec(ctx, q, r.dialect.insertIgnoreStmt("nodes", []string{"id", "label"}), id, label); err != nil {
		return nil, false, fmt.Errorf("could not create node %q: %w", label, err)
	}
	var n job.Node
	if err := r.queryRow(ctx, q, "SELECT id, label FROM nodes WHERE label = ?", label).Scan(&n.ID, &n.Label); err != nil {
		return nil, false, fmt.Errorf("could not fetch node %q: %w", label, err)
	}
	return &n, n.ID == id, nil
}
