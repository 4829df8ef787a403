// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/facebookincubator/buildsync/pkg/config"
	"github.com/facebookincubator/buildsync/pkg/types"
	"github.com/facebookincubator/buildsync/plugins/stats/prometheus"
)

// runOnce runs a single operation on a stored job or step and prints the
// resulting record. Steps found by sync-job are synchronized right away.
func runOnce(cfg config.Config, verb string, id types.ID, stdout io.Writer) error {
	a, err := newApp(cfg, prometheus.New())
	if err != nil {
		return err
	}
	defer a.Close()
	return run(context.Background(), a, verb, id, stdout)
}

func run(ctx context.Context, a *app, verb string, id types.ID, stdout io.Writer) error {
	var (
		resp   interface{}
		runErr error
	)
	switch verb {
	case "create", "sync-job":
		j, err := a.store.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if verb == "create" {
			runErr = a.builder.CreateJob(ctx, j)
		} else {
			runErr = a.builder.SyncJob(ctx, j)
		}
		if j, err = a.store.GetJob(ctx, id); err != nil {
			return err
		}
		resp = j
	case "sync-step":
		runErr = a.builder.SyncStepByID(ctx, id)
		step, err := a.store.GetStep(ctx, id)
		if err != nil {
			return err
		}
		resp = step
	default:
		return fmt.Errorf("invalid command %q", verb)
	}

	// the record is printed even on failure, it tells how the job failed
	encoder := json.NewEncoder(stdout)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", " ")
	if err := encoder.Encode(resp); err != nil {
		return fmt.Errorf("cannot encode %T: %w", resp, err)
	}
	if runErr != nil {
		return fmt.Errorf("%s %s failed: %w", verb, id, runErr)
	}
	return nil
}
