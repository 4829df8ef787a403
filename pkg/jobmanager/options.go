// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package jobmanager

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/facebookincubator/buildsync/pkg/config"
	"github.com/facebookincubator/buildsync/pkg/tasks"
)

// Option is an additional argument to method New to change the behavior
// of the JobManager.
type Option interface {
	apply(*jmConfig)
}

type jmConfig struct {
	pollInterval time.Duration
	clock        clock.Clock
	enqueuer     tasks.Enqueuer
}

type optionFunc func(*jmConfig)

func (f optionFunc) apply(cfg *jmConfig) {
	f(cfg)
}

// OptionPollInterval sets the interval between two polls of the storage.
func OptionPollInterval(d time.Duration) Option {
	return optionFunc(func(cfg *jmConfig) {
		cfg.pollInterval = d
	})
}

// OptionClock sets the clock driving the polls.
func OptionClock(c clock.Clock) Option {
	return optionFunc(func(cfg *jmConfig) {
		cfg.clock = c
	})
}

// OptionEnqueuer sets where the unfinished steps found by a poll are
// scheduled. It is usually the queue the Builder enqueues into.
func OptionEnqueuer(e tasks.Enqueuer) Option {
	return optionFunc(func(cfg *jmConfig) {
		cfg.enqueuer = e
	})
}

// getConfig converts a set of Option-s into one structure "jmConfig".
func getConfig(opts ...Option) jmConfig {
	result := jmConfig{
		pollInterval: config.DefaultPollInterval,
		clock:        clock.New(),
	}
	for _, opt := range opts {
		opt.apply(&result)
	}
	return result
}
