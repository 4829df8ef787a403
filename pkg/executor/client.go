// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/facebookincubator/buildsync/pkg/cerrors"
	"github.com/facebookincubator/buildsync/pkg/config"
	"github.com/facebookincubator/buildsync/pkg/logging"
	"github.com/facebookincubator/buildsync/pkg/stats"
	"github.com/facebookincubator/buildsync/pkg/testreport"
)

var log = logging.GetLogger("pkg/executor")

// Client implements Executor over the executor's HTTP JSON API. All requests
// carry the "token" query parameter.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	counter stats.Counter
}

// Opt is a function type that sets parameters on the Client object
type Opt func(c *Client)

// HTTPClient sets the underlying HTTP client. Its timeout is overridden by
// the request timeout.
func HTTPClient(hc *http.Client) Opt {
	return func(c *Client) {
		c.http = hc
	}
}

// Counter sets the counter incremented with the status of every response.
func Counter(counter stats.Counter) Opt {
	return func(c *Client) {
		c.counter = counter
	}
}

// NewClient returns a new Client for the configured executor.
func NewClient(cfg config.Executor, opts ...Opt) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid executor base URL '%s': %w", cfg.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme '%s', please specify either http or https", u.Scheme)
	}
	c := &Client{
		baseURL: u,
		token:   cfg.Token,
		http:    &http.Client{},
		counter: stats.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	timeout := time.Duration(cfg.RequestTimeout)
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultRequestTimeout)
	}
	hc := *c.http
	hc.Timeout = timeout
	c.http = &hc
	return c, nil
}

func (c *Client) url(path string, params url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(path, "/")
	if params == nil {
		params = url.Values{}
	}
	params.Set("token", c.token)
	u.RawQuery = params.Encode()
	return u.String()
}

// do performs the request and returns the response if its status is 2xx.
// The caller must close the body.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, contentType string, body io.Reader) (*http.Response, error) {
	u := c.url(path, params)
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("cannot create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	log.Debugf("Fetching %s %s", method, path)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP %s %s failed: %w", method, path, err)
	}
	c.counter.Incr(stats.KeyAPIResponse + strconv.Itoa(resp.StatusCode))
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", method, path, cerrors.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &cerrors.HTTPError{Method: method, URL: path, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, v interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, strings.TrimRight(path, "/")+"/api/json", params, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cannot read response of %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON data from %s: %w", path, err)
	}
	if log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		log.Tracef("Response of %s: %s", path, spew.Sdump(v))
	}
	return nil
}

// TriggerBuild implements Executor.TriggerBuild.
func (c *Client) TriggerBuild(ctx context.Context, req TriggerRequest) error {
	payload, err := json.Marshal(map[string]interface{}{"parameter": req.Parameters})
	if err != nil {
		return fmt.Errorf("cannot encode build parameters: %w", err)
	}

	var (
		body        bytes.Buffer
		contentType string
	)
	if len(req.Files) == 0 {
		form := url.Values{}
		form.Set("json", string(payload))
		body.WriteString(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	} else {
		mw := multipart.NewWriter(&body)
		if err := mw.WriteField("json", string(payload)); err != nil {
			return fmt.Errorf("cannot write build parameters: %w", err)
		}
		for field, content := range req.Files {
			fw, err := mw.CreateFormFile(field, field)
			if err != nil {
				return fmt.Errorf("cannot create file field '%s': %w", field, err)
			}
			if _, err := fw.Write(content); err != nil {
				return fmt.Errorf("cannot write file field '%s': %w", field, err)
			}
		}
		if err := mw.Close(); err != nil {
			return fmt.Errorf("cannot finalize build submission: %w", err)
		}
		contentType = mw.FormDataContentType()
	}

	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/job/%s/build", req.JobName), nil, contentType, &body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ListQueue implements Executor.ListQueue.
func (c *Client) ListQueue(ctx context.Context) (*Queue, error) {
	var queue Queue
	if err := c.getJSON(ctx, "/queue", nil, &queue); err != nil {
		return nil, err
	}
	return &queue, nil
}

// ListBuilds implements Executor.ListBuilds.
func (c *Client) ListBuilds(ctx context.Context, jobName string) (*BuildList, error) {
	var builds BuildList
	params := url.Values{}
	params.Set("depth", "1")
	if err := c.getJSON(ctx, fmt.Sprintf("/job/%s", jobName), params, &builds); err != nil {
		return nil, err
	}
	return &builds, nil
}

// GetQueueItem implements Executor.GetQueueItem.
func (c *Client) GetQueueItem(ctx context.Context, itemID string) (*QueueItem, error) {
	var item QueueItem
	if err := c.getJSON(ctx, fmt.Sprintf("/queue/item/%s", itemID), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetBuild implements Executor.GetBuild.
func (c *Client) GetBuild(ctx context.Context, jobName string, buildNo int) (*Build, error) {
	var build Build
	if err := c.getJSON(ctx, buildPath(jobName, buildNo), nil, &build); err != nil {
		return nil, err
	}
	return &build, nil
}

// GetConsoleLog implements Executor.GetConsoleLog.
func (c *Client) GetConsoleLog(ctx context.Context, jobName string, buildNo int, offset int64) (*ConsoleLog, error) {
	params := url.Values{}
	params.Set("start", strconv.FormatInt(offset, 10))
	resp, err := c.do(ctx, http.MethodGet, buildPath(jobName, buildNo)+"/logText/progressiveText", params, "", nil)
	if err != nil {
		return nil, err
	}
	size, err := strconv.ParseInt(resp.Header.Get("X-Text-Size"), 10, 64)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("invalid X-Text-Size header '%s': %w", resp.Header.Get("X-Text-Size"), err)
	}
	return &ConsoleLog{
		Body:     resp.Body,
		TextSize: size,
		MoreData: resp.Header.Get("X-More-Data") == "true",
	}, nil
}

// GetArtifact implements Executor.GetArtifact.
func (c *Client) GetArtifact(ctx context.Context, jobName string, buildNo int, relativePath string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, buildPath(jobName, buildNo)+"/artifact/"+relativePath, nil, "", nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetTestReport implements Executor.GetTestReport.
func (c *Client) GetTestReport(ctx context.Context, jobName string, buildNo int) (*testreport.Report, error) {
	var report testreport.Report
	if err := c.getJSON(ctx, buildPath(jobName, buildNo)+"/testReport", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func buildPath(jobName string, buildNo int) string {
	return fmt.Sprintf("/job/%s/%d", jobName, buildNo)
}
