// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/insomniacslk/xjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Executor.BaseURL = "http://jenkins.example.com"
	cfg.Executor.JobName = "server"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 4096, cfg.Sync.LogChunkSize)
	assert.False(t, cfg.Sync.SyncLogArtifacts)
	assert.True(t, cfg.Sync.SyncXunitArtifacts)
	assert.Equal(t, ".log", cfg.Sync.LogArtifactSuffix)
	assert.Equal(t, []string{"junit.xml", "xunit.xml", "nosetests.xml"}, cfg.Sync.XunitFilenames)
	assert.Equal(t, 300*time.Millisecond, time.Duration(cfg.Sync.LocateInterval))
	assert.Equal(t, 5*time.Second, time.Duration(cfg.Sync.LocateTimeout))
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Sync.LogSyncTimeout))

	// the default list must not be shared
	cfg.Sync.XunitFilenames[0] = "changed.xml"
	assert.Equal(t, "junit.xml", DefaultXunitFilenames[0])
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Executor.BaseURL = ""
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Executor.BaseURL = "ftp://jenkins.example.com"
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Sync.LogChunkSize = 0
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Sync.LocateTimeout = xjson.Duration(100 * time.Millisecond)
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Sync.SyncLogArtifacts = true
	cfg.Sync.LogArtifactSuffix = ""
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Server.Workers = 0
	require.Error(t, cfg.Validate())

	// a missing job name is reported by the dispatcher, not here
	cfg = validConfig()
	cfg.Executor.JobName = ""
	require.NoError(t, cfg.Validate())
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
executor:
  base_url: https://jenkins.example.com
  token: secret
  job_name: server
  request_timeout: 10s
sync:
  log_chunk_size: 1024
  sync_log_artifacts: true
  locate_interval: 100ms
storage:
  db_driver: sqlite3
  db_uri: /tmp/buildsync.db
log_level: debug
`)
	cfg, err := Parse(data, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "https://jenkins.example.com", cfg.Executor.BaseURL)
	assert.Equal(t, "secret", cfg.Executor.Token)
	assert.Equal(t, "server", cfg.Executor.JobName)
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Executor.RequestTimeout))
	assert.Equal(t, 1024, cfg.Sync.LogChunkSize)
	assert.True(t, cfg.Sync.SyncLogArtifacts)
	assert.Equal(t, 100*time.Millisecond, time.Duration(cfg.Sync.LocateInterval))
	assert.Equal(t, "sqlite3", cfg.Storage.DBDriver)
	assert.Equal(t, "debug", cfg.LogLevel)

	// untouched keys keep their defaults
	assert.True(t, cfg.Sync.SyncXunitArtifacts)
	assert.Equal(t, 5*time.Second, time.Duration(cfg.Sync.LocateTimeout))
	require.NoError(t, cfg.Validate())
}

func TestParseJSON(t *testing.T) {
	data := []byte(`{"executor": {"base_url": "http://localhost:8080", "job_name": "lint"}, "server": {"workers": 8}}`)
	cfg, err := Parse(data, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "lint", cfg.Executor.JobName)
	assert.Equal(t, 8, cfg.Server.Workers)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte("executor: [unterminated"), FormatYAML)
	require.Error(t, err)
	_, err = Parse([]byte(`{"sync": {"locate_interval": "soon"}}`), FormatJSON)
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildsync.yml")
	require.NoError(t, ioutil.WriteFile(path, []byte("executor:\n  base_url: http://localhost\n"), 0600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost", cfg.Executor.BaseURL)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("a.yaml"))
	assert.Equal(t, FormatYAML, FormatFromPath("a.YML"))
	assert.Equal(t, FormatJSON, FormatFromPath("a.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("a"))
}
