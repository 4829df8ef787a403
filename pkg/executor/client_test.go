// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/insomniacslk/xjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/buildsync/pkg/cerrors"
	"github.com/facebookincubator/buildsync/pkg/config"
)

type countingCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingCounter) Incr(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[key]++
}

func newTestClient(t *testing.T, handler http.Handler, opts ...Opt) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(config.Executor{
		BaseURL:        srv.URL + "/",
		Token:          "s3cr3t",
		RequestTimeout: xjson.Duration(5 * time.Second),
	}, opts...)
	require.NoError(t, err)
	return client
}

func TestNewClientInvalidURL(t *testing.T) {
	_, err := NewClient(config.Executor{BaseURL: "ftp://example.com"})
	require.Error(t, err)
}

func TestGetQueueItem(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/queue/item/42/api/json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s3cr3t", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(`{"id": 42, "blocked": false, "cancelled": false, "executable": {"number": 7}}`))
	})
	counter := &countingCounter{}
	client := newTestClient(t, mux, Counter(counter))

	item, err := client.GetQueueItem(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 42, item.ID)
	require.NotNil(t, item.Executable)
	assert.Equal(t, 7, item.Executable.Number)
	assert.Equal(t, 1, counter.counts["executor_api_response_200"])

	_, err = client.GetQueueItem(context.Background(), "43")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cerrors.ErrNotFound))
	assert.Equal(t, 1, counter.counts["executor_api_response_404"])
}

func TestHTTPError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	_, err := client.GetBuild(context.Background(), "server", 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, cerrors.ErrNotFound))
	var httpErr *cerrors.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
}

func TestInvalidJSON(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	_, err := client.ListQueue(context.Background())
	require.Error(t, err)
}

func TestGetBuild(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/job/server/3/api/json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"number": 3,
			"builtOn": "worker-1",
			"fullDisplayName": "server #3",
			"building": false,
			"result": "SUCCESS",
			"timestamp": 1400000000000,
			"duration": 61500,
			"artifacts": [{"fileName": "junit.xml", "displayPath": "junit.xml", "relativePath": "out/junit.xml"}]
		}`))
	})
	client := newTestClient(t, mux)
	build, err := client.GetBuild(context.Background(), "server", 3)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", build.BuiltOn)
	require.NotNil(t, build.Result)
	assert.Equal(t, "SUCCESS", *build.Result)
	assert.Equal(t, time.Date(2014, 5, 13, 16, 53, 20, 0, time.UTC), build.StartTime())
	assert.Equal(t, build.StartTime().Add(61500*time.Millisecond), build.FinishTime())
	require.Len(t, build.Artifacts, 1)
	assert.Equal(t, "out/junit.xml", build.Artifacts[0].RelativePath)
}

func TestListQueueAndBuilds(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/queue/api/json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": [
			{"id": 1, "actions": [{}, {"parameters": [{"name": "CHANGES_BID", "value": "abc"}]}]},
			{"id": 2, "actions": [{"parameters": [{"name": "REVISION", "value": "deadbeef"}, {"name": "COUNT", "value": 3}]}]}
		]}`))
	})
	mux.HandleFunc("/job/server/api/json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("depth"))
		_, _ = w.Write([]byte(`{"builds": [{"number": 9, "actions": [{"parameters": [{"name": "CHANGES_BID", "value": "abc"}]}]}]}`))
	})
	client := newTestClient(t, mux)

	queue, err := client.ListQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, queue.Items, 2)
	assert.True(t, queue.Items[0].Actions.HasParameter("CHANGES_BID", "abc"))
	assert.False(t, queue.Items[1].Actions.HasParameter("CHANGES_BID", "abc"))
	v, ok := queue.Items[1].Actions.Parameter("COUNT")
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	builds, err := client.ListBuilds(context.Background(), "server")
	require.NoError(t, err)
	require.Len(t, builds.Builds, 1)
	assert.Equal(t, 9, builds.Builds[0].Number)
}

func TestTriggerBuild(t *testing.T) {
	var gotJSON string
	mux := http.NewServeMux()
	mux.HandleFunc("/job/server/build", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		gotJSON = r.PostForm.Get("json")
		w.WriteHeader(http.StatusCreated)
	})
	client := newTestClient(t, mux)
	err := client.TriggerBuild(context.Background(), TriggerRequest{
		JobName: "server",
		Parameters: []BuildParameter{
			{Name: "CHANGES_BID", Value: "abc"},
			{Name: "REVISION", Value: "deadbeef"},
		},
	})
	require.NoError(t, err)
	var payload map[string][]map[string]string
	require.NoError(t, json.Unmarshal([]byte(gotJSON), &payload))
	assert.Equal(t, []map[string]string{
		{"name": "CHANGES_BID", "value": "abc"},
		{"name": "REVISION", "value": "deadbeef"},
	}, payload["parameter"])
}

func TestTriggerBuildWithPatch(t *testing.T) {
	var (
		gotJSON  string
		gotPatch []byte
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/job/server/build", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotJSON = r.FormValue("json")
		f, _, err := r.FormFile("patch")
		require.NoError(t, err)
		defer f.Close()
		gotPatch, err = ioutil.ReadAll(f)
		require.NoError(t, err)
	})
	client := newTestClient(t, mux)
	err := client.TriggerBuild(context.Background(), TriggerRequest{
		JobName: "server",
		Parameters: []BuildParameter{
			{Name: "CHANGES_BID", Value: "abc"},
			{Name: "PATCH", File: "patch"},
		},
		Files: map[string][]byte{"patch": []byte("--- a\n+++ b\n")},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"parameter": [{"name": "CHANGES_BID", "value": "abc"}, {"name": "PATCH", "file": "patch"}]}`, gotJSON)
	assert.Equal(t, "--- a\n+++ b\n", string(gotPatch))
}

func TestGetConsoleLog(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/job/server/3/logText/progressiveText", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("start"))
		w.Header().Set("X-Text-Size", "11")
		w.Header().Set("X-More-Data", "true")
		_, _ = w.Write([]byte("world\n"))
	})
	client := newTestClient(t, mux)
	cl, err := client.GetConsoleLog(context.Background(), "server", 3, 5)
	require.NoError(t, err)
	defer cl.Body.Close()
	assert.Equal(t, int64(11), cl.TextSize)
	assert.True(t, cl.MoreData)
	body, err := ioutil.ReadAll(cl.Body)
	require.NoError(t, err)
	assert.Equal(t, "world\n", string(body))
}

func TestGetConsoleLogMissingSize(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("text"))
	}))
	_, err := client.GetConsoleLog(context.Background(), "server", 3, 0)
	require.Error(t, err)
}

func TestGetArtifactAndTestReport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/job/server/3/artifact/logs/build.log", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("artifact content"))
	})
	mux.HandleFunc("/job/server/3/testReport/api/json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"suites": [{"name": "unit", "cases": [{"name": "t", "status": "PASSED", "duration": 0.5}]}]}`))
	})
	client := newTestClient(t, mux)

	rc, err := client.GetArtifact(context.Background(), "server", 3, "logs/build.log")
	require.NoError(t, err)
	data, err := ioutil.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "artifact content", string(data))

	report, err := client.GetTestReport(context.Background(), "server", 3)
	require.NoError(t, err)
	require.Len(t, report.Suites, 1)
	assert.Equal(t, "PASSED", report.Suites[0].Cases[0].Status)

	_, err = client.GetTestReport(context.Background(), "server", 4)
	assert.True(t, errors.Is(err, cerrors.ErrNotFound))
}
