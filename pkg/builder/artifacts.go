// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package builder

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/facebookincubator/buildsync/pkg/executor"
	"github.com/facebookincubator/buildsync/pkg/job"
	"github.com/facebookincubator/buildsync/pkg/storage"
	"github.com/facebookincubator/buildsync/pkg/testreport"
)

// IsLogArtifact returns true if the artifact is replicated as a log.
func (b *Builder) IsLogArtifact(a executor.Artifact) bool {
	return b.sync.SyncLogArtifacts && b.sync.LogArtifactSuffix != "" &&
		strings.HasSuffix(a.FileName, b.sync.LogArtifactSuffix)
}

// IsXunitArtifact returns true if the artifact is ingested as a test report.
func (b *Builder) IsXunitArtifact(a executor.Artifact) bool {
	if !b.sync.SyncXunitArtifacts {
		return false
	}
	for _, name := range b.sync.XunitFilenames {
		if strings.HasSuffix(a.FileName, name) {
			return true
		}
	}
	return false
}

// syncArtifact stores a in s, the stored log chunks are appended to stored.
func (b *Builder) syncArtifact(ctx context.Context, s storage.Storage, j *job.Job, step *job.Step, a executor.Artifact, stored *[]*job.LogChunk) error {
	if b.IsLogArtifact(a) {
		if err := b.syncArtifactAsLog(ctx, s, j, step, a, stored); err != nil {
			return err
		}
	}
	if b.IsXunitArtifact(a) {
		if err := b.syncArtifactAsXunit(ctx, s, j, step, a); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) fetchArtifact(ctx context.Context, step *job.Step, a executor.Artifact, f func(r io.Reader) error) error {
	body, err := b.exec.GetArtifact(ctx, step.Data.JobName, step.Data.BuildNo, a.RelativePath)
	if err != nil {
		return fmt.Errorf("could not fetch artifact %q: %w", a.RelativePath, err)
	}
	defer func() {
		if err := body.Close(); err != nil {
			log.Warningf("Could not close artifact %q: %v", a.RelativePath, err)
		}
	}()
	return f(body)
}

// artifacts are static: they are fetched whole, from offset 0.
func (b *Builder) syncArtifactAsLog(ctx context.Context, s storage.Storage, j *job.Job, step *job.Step, a executor.Artifact, stored *[]*job.LogChunk) error {
	source, _, err := s.GetOrCreateLogSource(ctx, job.LogSourceKey{JobID: j.ID, StepID: step.ID, Name: a.DisplayPath}, job.LogSource{
		ProjectID:   j.ProjectID,
		DateCreated: b.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("could not get log source %q: %w", a.DisplayPath, err)
	}
	return b.fetchArtifact(ctx, step, a, func(r io.Reader) error {
		_, err := b.replicateLog(ctx, s, source, r, 0, stored)
		return err
	})
}

func (b *Builder) syncArtifactAsXunit(ctx context.Context, s storage.Storage, j *job.Job, step *job.Step, a executor.Artifact) error {
	return b.fetchArtifact(ctx, step, a, func(r io.Reader) error {
		report, err := testreport.ParseXunit(r)
		if err != nil {
			return fmt.Errorf("could not parse %q: %w", a.RelativePath, err)
		}
		return b.ingestReport(ctx, s, j, report)
	})
}
