// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/insomniacslk/xjson"
	"gopkg.in/yaml.v3"
)

// DefaultLogChunkSize is the target size of a replicated log chunk.
const DefaultLogChunkSize = 4096

// DefaultXunitFilenames are the artifact names parsed as xunit test reports.
var DefaultXunitFilenames = []string{"junit.xml", "xunit.xml", "nosetests.xml"}

// Executor configures the connection to the CI executor.
type Executor struct {
	BaseURL string `json:"base_url"`
	// Token is sent as "token" query parameter with every request.
	Token string `json:"token"`
	// JobName is the executor job that builds are submitted to.
	JobName        string         `json:"job_name"`
	RequestTimeout xjson.Duration `json:"request_timeout"`
}

// Sync configures the synchronization engine.
type Sync struct {
	LogChunkSize int `json:"log_chunk_size"`
	// SyncLogArtifacts is disabled by default as it is expensive.
	SyncLogArtifacts   bool     `json:"sync_log_artifacts"`
	SyncXunitArtifacts bool     `json:"sync_xunit_artifacts"`
	LogArtifactSuffix  string   `json:"log_artifact_suffix"`
	XunitFilenames     []string `json:"xunit_filenames"`

	LocateInterval xjson.Duration `json:"locate_interval"`
	LocateTimeout  xjson.Duration `json:"locate_timeout"`
	LogSyncTimeout xjson.Duration `json:"log_sync_timeout"`
}

// Storage selects the storage backend. An empty DBURI selects the in-memory
// storage.
type Storage struct {
	DBDriver string `json:"db_driver"`
	DBURI    string `json:"db_uri"`
}

// Server configures the long running "serve" mode.
type Server struct {
	ListenAddr   string         `json:"listen_addr"`
	PollInterval xjson.Duration `json:"poll_interval"`
	Workers      int            `json:"workers"`
	// PublishURL receives log chunk events, if set.
	PublishURL string `json:"publish_url"`
}

// Config is the whole configuration of a buildsync process. It is passed
// explicitly to the components that need it.
type Config struct {
	Executor Executor `json:"executor"`
	Sync     Sync     `json:"sync"`
	Storage  Storage  `json:"storage"`
	Server   Server   `json:"server"`
	LogLevel string   `json:"log_level"`
}

// DefaultConfig returns a configuration with all the defaults set.
func DefaultConfig() Config {
	return Config{
		Executor: Executor{
			RequestTimeout: xjson.Duration(DefaultRequestTimeout),
		},
		Sync: Sync{
			LogChunkSize:       DefaultLogChunkSize,
			SyncLogArtifacts:   false,
			SyncXunitArtifacts: true,
			LogArtifactSuffix:  ".log",
			XunitFilenames:     append([]string(nil), DefaultXunitFilenames...),
			LocateInterval:     xjson.Duration(DefaultLocateInterval),
			LocateTimeout:      xjson.Duration(DefaultLocateTimeout),
			LogSyncTimeout:     xjson.Duration(DefaultLogSyncTimeout),
		},
		Storage: Storage{
			DBDriver: DefaultDBDriver,
		},
		Server: Server{
			ListenAddr:   ":8080",
			PollInterval: xjson.Duration(DefaultPollInterval),
			Workers:      4,
		},
		LogLevel: "info",
	}
}

// Validate performs sanity checks on the configuration. The executor job
// name is not checked here: a missing job name is reported when a job is
// created.
func (c *Config) Validate() error {
	if c.Executor.BaseURL == "" {
		return errors.New("executor base URL cannot be empty")
	}
	u, err := url.Parse(c.Executor.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid executor base URL %q: %w", c.Executor.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme '%s', please specify either http or https", u.Scheme)
	}
	if c.Executor.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", time.Duration(c.Executor.RequestTimeout))
	}
	if c.Sync.LogChunkSize <= 0 {
		return fmt.Errorf("log chunk size must be positive, got %d", c.Sync.LogChunkSize)
	}
	if c.Sync.LocateInterval <= 0 {
		return fmt.Errorf("locate interval must be positive, got %v", time.Duration(c.Sync.LocateInterval))
	}
	if c.Sync.LocateTimeout < c.Sync.LocateInterval {
		return fmt.Errorf("locate timeout (%v) must not be shorter than locate interval (%v)",
			time.Duration(c.Sync.LocateTimeout), time.Duration(c.Sync.LocateInterval))
	}
	if c.Sync.LogSyncTimeout <= 0 {
		return fmt.Errorf("log sync timeout must be positive, got %v", time.Duration(c.Sync.LogSyncTimeout))
	}
	if c.Sync.SyncLogArtifacts && c.Sync.LogArtifactSuffix == "" {
		return errors.New("log artifact suffix cannot be empty when log artifacts are synced")
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("number of workers must be positive, got %d", c.Server.Workers)
	}
	if c.Server.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", time.Duration(c.Server.PollInterval))
	}
	return nil
}

// Format defines a type for the supported formats of configuration files.
type Format int

// List of supported configuration formats
const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFromPath guesses the format of a configuration file from its extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parse decodes a configuration on top of the defaults. YAML documents are
// converted to JSON first, so that both formats share the same decoding
// rules (e.g. durations as "300ms").
func Parse(data []byte, format Format) (Config, error) {
	cfg := DefaultConfig()
	jsonData := data
	if format == FormatYAML {
		var doc map[string]interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return cfg, fmt.Errorf("failed to parse YAML configuration: %w", err)
		}
		var err error
		if jsonData, err = json.Marshal(doc); err != nil {
			return cfg, fmt.Errorf("failed to convert YAML configuration to JSON: %w", err)
		}
	}
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse JSON configuration: %w", err)
	}
	return cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("could not read configuration file: %w", err)
	}
	return Parse(data, FormatFromPath(path))
}
