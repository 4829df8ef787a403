// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package main

import (
	"context"
	"os"
	"time"

	"github.com/facebookincubator/buildsync/pkg/builder"
	"github.com/facebookincubator/buildsync/pkg/config"
	"github.com/facebookincubator/buildsync/pkg/jobmanager"
	"github.com/facebookincubator/buildsync/pkg/tasks"
	"github.com/facebookincubator/buildsync/plugins/listeners/httplistener"
	"github.com/facebookincubator/buildsync/plugins/stats/prometheus"
)

// pending step synchronizations per worker
const queueDepth = 256

func serve(cfg config.Config, sigs chan os.Signal) error {
	counter := prometheus.New()
	queue := tasks.NewQueue(cfg.Server.Workers, cfg.Server.Workers*queueDepth, tasks.Counter(counter))

	a, err := newApp(cfg, counter, builder.Enqueuer(queue))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queueDone := make(chan struct{})
	go func() {
		queue.Run(ctx, a.builder.SyncStepByID)
		close(queueDone)
	}()

	listener := httplistener.NewHTTPListener(cfg.Server.ListenAddr, httplistener.Metrics(counter.Handler()))
	jm, err := jobmanager.New(listener, a.builder, a.store,
		jobmanager.OptionPollInterval(time.Duration(cfg.Server.PollInterval)),
		jobmanager.OptionEnqueuer(queue),
	)
	if err != nil {
		cancel()
		<-queueDone
		return err
	}
	log.Infof("Syncing builds of %q from %s with %d workers", cfg.Executor.JobName, cfg.Executor.BaseURL, cfg.Server.Workers)

	err = jm.Start(ctx, sigs)
	cancel()
	<-queueDone
	log.Infof("Exiting, %v", err)
	return err
}
