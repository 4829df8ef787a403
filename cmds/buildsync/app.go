// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package main

import (
	"fmt"

	"github.com/facebookincubator/buildsync/pkg/builder"
	"github.com/facebookincubator/buildsync/pkg/config"
	"github.com/facebookincubator/buildsync/pkg/executor"
	"github.com/facebookincubator/buildsync/pkg/storage"
	"github.com/facebookincubator/buildsync/plugins/publishers/httppublisher"
	"github.com/facebookincubator/buildsync/plugins/stats/prometheus"
	"github.com/facebookincubator/buildsync/plugins/storage/memory"
	"github.com/facebookincubator/buildsync/plugins/storage/rdbms"
)

// app holds the components shared by every command.
type app struct {
	store   storage.TransactionalStorage
	counter *prometheus.Counter
	builder *builder.Builder
	closers []func()
}

func openStorage(cfg config.Storage) (storage.TransactionalStorage, error) {
	if cfg.DBURI == "" {
		log.Warnf("Using in-memory storage")
		return memory.New()
	}
	log.Infof("Using database URI: %s", cfg.DBURI)
	s, err := rdbms.New(cfg.DBURI, rdbms.DriverName(cfg.DBDriver))
	if err != nil {
		return nil, fmt.Errorf("could not initialize database: %w", err)
	}
	if err := storage.CheckVersion(s); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// newApp wires storage, the executor client and the builder. opts are
// applied to the builder after the defaults.
func newApp(cfg config.Config, counter *prometheus.Counter, opts ...builder.Opt) (*app, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	a := &app{store: store, counter: counter}
	a.closers = append(a.closers, func() {
		if err := store.Close(); err != nil {
			log.Warningf("Could not close storage: %v", err)
		}
	})

	exec, err := executor.NewClient(cfg.Executor, executor.Counter(counter))
	if err != nil {
		a.Close()
		return nil, err
	}
	builderOpts := []builder.Opt{builder.Counter(counter)}
	if cfg.Server.PublishURL != "" {
		pub, err := httppublisher.New(cfg.Server.PublishURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid publish URL %q: %w", cfg.Server.PublishURL, err)
		}
		log.Infof("Publishing log chunks to %s", pub.Addr)
		a.closers = append(a.closers, pub.Close)
		builderOpts = append(builderOpts, builder.Publisher(pub))
	}
	builderOpts = append(builderOpts, opts...)

	if a.builder, err = builder.New(cfg, exec, store, builderOpts...); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the components in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
