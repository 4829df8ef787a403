// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package storage

import (
	"fmt"
	"reflect"

	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/types"
)

// JobQuery selects jobs. Empty fields do not filter.
type JobQuery struct {
	Statuses  []job.Status
	ProjectID types.ID
}

// StepQuery selects steps. Empty fields do not filter.
type StepQuery struct {
	Statuses []job.Status
	JobID    types.ID
}

// JobQueryField is an option of BuildJobQuery.
type JobQueryField interface {
	queryFieldPointer(query *JobQuery) interface{}
}

// StepQueryField is an option of BuildStepQuery.
type StepQueryField interface {
	stepQueryFieldPointer(query *StepQuery) interface{}
}

// QueryFieldStatuses is a status filter usable in both job and step queries.
type QueryFieldStatuses []job.Status

type queryFieldProjectID types.ID
type queryFieldJobID types.ID

// QueryStatuses filters jobs or steps by status.
func QueryStatuses(statuses ...job.Status) QueryFieldStatuses { return QueryFieldStatuses(statuses) }
func (value QueryFieldStatuses) queryFieldPointer(query *JobQuery) interface{} {
	return &query.Statuses
}
func (value QueryFieldStatuses) stepQueryFieldPointer(query *StepQuery) interface{} {
	return &query.Statuses
}

// QueryProjectID filters jobs by project.
func QueryProjectID(id types.ID) JobQueryField { return queryFieldProjectID(id) }
func (value queryFieldProjectID) queryFieldPointer(query *JobQuery) interface{} {
	return &query.ProjectID
}

// QueryJobID filters steps by job.
func QueryJobID(id types.ID) StepQueryField { return queryFieldJobID(id) }
func (value queryFieldJobID) stepQueryFieldPointer(query *StepQuery) interface{} {
	return &query.JobID
}

// BuildJobQuery builds a JobQuery, rejecting fields set twice or set to a
// zero value.
func BuildJobQuery(queryFields ...JobQueryField) (*JobQuery, error) {
	query := &JobQuery{}
	for idx, queryField := range queryFields {
		if err := applyQueryField(queryField.queryFieldPointer(query), queryField); err != nil {
			return nil, fmt.Errorf("unable to apply field %d:%T(%v): %w", idx, queryField, queryField, err)
		}
	}
	return query, nil
}

// BuildStepQuery builds a StepQuery, rejecting fields set twice or set to a
// zero value.
func BuildStepQuery(queryFields ...StepQueryField) (*StepQuery, error) {
	query := &StepQuery{}
	for idx, queryField := range queryFields {
		if err := applyQueryField(queryField.stepQueryFieldPointer(query), queryField); err != nil {
			return nil, fmt.Errorf("unable to apply field %d:%T(%v): %w", idx, queryField, queryField, err)
		}
	}
	return query, nil
}

// ErrQueryFieldIsAlreadySet is returned when a query field is set multiple times.
type ErrQueryFieldIsAlreadySet struct {
	FieldValue interface{}
	QueryField interface{}
}

func (err ErrQueryFieldIsAlreadySet) Error() string {
	return fmt.Sprintf("field %T is set multiple times: cur_value:%v new_value:%v",
		err.QueryField, err.FieldValue, err.QueryField)
}

// ErrQueryFieldHasZeroValue is returned when a QueryFields failed validation
// due to a QueryField with a zero value (this is unexpected and forbidden).
type ErrQueryFieldHasZeroValue struct {
	QueryField interface{}
}

func (err ErrQueryFieldHasZeroValue) Error() string {
	return fmt.Sprintf("field %T has a zero value", err.QueryField)
}

func applyQueryField(fieldPtr interface{}, queryField interface{}) error {
	if reflect.ValueOf(queryField).IsZero() {
		return ErrQueryFieldHasZeroValue{QueryField: queryField}
	}
	field := reflect.ValueOf(fieldPtr).Elem()
	if !reflect.ValueOf(field.Interface()).IsZero() {
		return ErrQueryFieldIsAlreadySet{FieldValue: field.Interface(), QueryField: queryField}
	}
	field.Set(reflect.ValueOf(queryField).Convert(field.Type()))
	return nil
}

// MatchStatus returns true if status is in statuses, or if statuses is empty.
func MatchStatus(statuses []job.Status, status job.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
