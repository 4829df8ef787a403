// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package httplistener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/facebookincubator/buildsync/pkg/cerrors"
	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/jobmanager"
	"github.com/facebookincubator/buildsync/pkg/logging"
	"github.com/facebookincubator/buildsync/pkg/types"
)

var log = logging.GetLogger("plugins/listeners/httplistener")

// HTTPListener implements the jobmanager.Listener interface.
type HTTPListener struct {
	addr    string
	metrics http.Handler
}

// Opt is a function type that sets parameters on the HTTPListener object
type Opt func(l *HTTPListener)

// Metrics exposes h under /metrics.
func Metrics(h http.Handler) Opt {
	return func(l *HTTPListener) {
		l.metrics = h
	}
}

// NewHTTPListener returns a listener serving on addr, e.g. ":8080".
func NewHTTPListener(addr string, opts ...Opt) *HTTPListener {
	l := &HTTPListener{addr: addr}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// HTTPAPIError is returned when an API method fails. It wraps the error
// message.
type HTTPAPIError struct {
	Msg string
}

// SubmitRequest is the body of a job submission.
type SubmitRequest struct {
	ProjectID   string `json:"project_id"`
	RevisionSHA string `json:"revision_sha"`
	// Patch is the diff to apply on top of the revision.
	Patch string `json:"patch"`
}

// Job is the API view of a job.
type Job struct {
	ID           types.ID   `json:"id"`
	ProjectID    types.ID   `json:"project_id"`
	Status       job.Status `json:"status"`
	Result       job.Result `json:"result"`
	Data         job.Data   `json:"data"`
	RevisionSHA  string     `json:"revision_sha,omitempty"`
	HasPatch     bool       `json:"has_patch"`
	DateCreated  time.Time  `json:"date_created"`
	DateStarted  *time.Time `json:"date_started,omitempty"`
	DateFinished *time.Time `json:"date_finished,omitempty"`
}

func newJob(j *job.Job) Job {
	return Job{
		ID:           j.ID,
		ProjectID:    j.ProjectID,
		Status:       j.Status,
		Result:       j.Result,
		Data:         j.Data,
		RevisionSHA:  j.Source.RevisionSHA,
		HasPatch:     len(j.Source.Patch) > 0,
		DateCreated:  j.DateCreated,
		DateStarted:  j.DateStarted,
		DateFinished: j.DateFinished,
	}
}

// JobStatus is the API view of a job along with its phases, steps, logs
// and test results.
type JobStatus struct {
	Job         Job               `json:"job"`
	Phases      []*job.Phase      `json:"phases"`
	Steps       []*job.Step       `json:"steps"`
	LogSources  []*job.LogSource  `json:"log_sources"`
	TestResults []*job.TestResult `json:"test_results"`
}

type apiHandler struct {
	jm *jobmanager.JobManager
}

func (h *apiHandler) reply(w http.ResponseWriter, status int, v interface{}) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		panic(fmt.Sprintf("cannot marshal %T: %v", v, err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buffer.Bytes()); err != nil {
		log.Debugf("Cannot write to client socket: %v", err)
	}
}

func (h *apiHandler) fail(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, cerrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, cerrors.ErrUnrecoverable):
		status = http.StatusUnprocessableEntity
	}
	h.reply(w, status, HTTPAPIError{Msg: err.Error()})
}

func (h *apiHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []job.Status
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		for _, name := range strings.Split(statusStr, ",") {
			st, err := job.ParseStatus(name)
			if err != nil {
				h.fail(w, fmt.Errorf("List failed: %w", err))
				return
			}
			statuses = append(statuses, st)
		}
	}
	jobs, err := h.jm.List(r.Context(), statuses...)
	if err != nil {
		h.fail(w, fmt.Errorf("List failed: %w", err))
		return
	}
	res := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		res = append(res, newJob(j))
	}
	h.reply(w, http.StatusOK, res)
}

func (h *apiHandler) submitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, fmt.Errorf("Submit failed: invalid request: %w", err))
		return
	}
	projectID, err := types.ParseID(req.ProjectID)
	if err != nil {
		h.fail(w, fmt.Errorf("Submit failed: invalid project ID: %w", err))
		return
	}
	j, err := h.jm.Submit(r.Context(), projectID, job.Source{RevisionSHA: req.RevisionSHA, Patch: []byte(req.Patch)})
	if err != nil {
		if j == nil {
			h.fail(w, err)
			return
		}
		// the job exists, and tells how it failed
		log.WithField("job_id", j.Token()).Warningf("Submit failed: %v", err)
		h.reply(w, http.StatusUnprocessableEntity, newJob(j))
		return
	}
	h.reply(w, http.StatusCreated, newJob(j))
}

func (h *apiHandler) jobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := types.ParseID(chi.URLParam(r, "jobID"))
	if err != nil {
		h.fail(w, fmt.Errorf("Status failed: %w", err))
		return
	}
	status, err := h.jm.Status(r.Context(), jobID)
	if err != nil {
		h.fail(w, fmt.Errorf("Status failed: %w", err))
		return
	}
	h.reply(w, http.StatusOK, JobStatus{
		Job:         newJob(status.Job),
		Phases:      status.Phases,
		Steps:       status.Steps,
		LogSources:  status.LogSources,
		TestResults: status.TestResults,
	})
}

func (h *apiHandler) logChunks(w http.ResponseWriter, r *http.Request) {
	sourceID, err := types.ParseID(chi.URLParam(r, "sourceID"))
	if err != nil {
		h.fail(w, fmt.Errorf("Logs failed: %w", err))
		return
	}
	var offset int64
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err = strconv.ParseInt(offsetStr, 10, 64); err != nil || offset < 0 {
			h.fail(w, fmt.Errorf("Logs failed: invalid offset %q", offsetStr))
			return
		}
	}
	chunks, err := h.jm.LogChunks(r.Context(), sourceID, offset)
	if err != nil {
		h.fail(w, fmt.Errorf("Logs failed: %w", err))
		return
	}
	if chunks == nil {
		chunks = []*job.LogChunk{}
	}
	h.reply(w, http.StatusOK, chunks)
}

// Handler returns the HTTP API of jm.
func (l *HTTPListener) Handler(jm *jobmanager.JobManager) http.Handler {
	h := &apiHandler{jm: jm}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if l.metrics != nil {
		r.Method(http.MethodGet, "/metrics", l.metrics)
	}
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.listJobs)
		r.Post("/", h.submitJob)
		r.Get("/{jobID}", h.jobStatus)
	})
	r.Get("/logs/{sourceID}", h.logChunks)
	return r
}

func listenWithCancellation(ctx context.Context, s *http.Server) error {
	var (
		errCh = make(chan error, 1)
	)
	// start the listener asynchronously, and report errors and completion via
	// channels.
	go func() {
		errCh <- s.ListenAndServe()
	}()
	log.Infof("Started HTTP API listener on %s", s.Addr)
	// wait for cancellation or for completion
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Debugf("Received server shut down request")
		return s.Close()
	}
}

// Serve implements the jobmanager.Listener.Serve interface method. It serves
// the HTTP API until ctx is done.
func (l *HTTPListener) Serve(ctx context.Context, jm *jobmanager.JobManager) error {
	if jm == nil {
		return errors.New("JobManager object is nil")
	}
	s := http.Server{
		Addr:         l.addr,
		Handler:      l.Handler(jm),
		ReadTimeout:  10 * time.Second,
		// submissions wait for the job to show up on the executor
		WriteTimeout: time.Minute,
	}
	if err := listenWithCancellation(ctx, &s); err != nil {
		return fmt.Errorf("HTTP listener failed: %v", err)
	}
	return nil
}
