// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/buildsync/pkg/types"
)

type countingCounter struct {
	lock   sync.Mutex
	counts map[string]int
}

func (c *countingCounter) Incr(key string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.counts[key]++
}

func (c *countingCounter) get(key string) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.counts[key]
}

func TestEnqueueDeduplicates(t *testing.T) {
	q := NewQueue(1, 10)
	ctx := context.Background()
	stepID := types.NewID()
	require.NoError(t, q.Enqueue(ctx, stepID))
	require.NoError(t, q.Enqueue(ctx, stepID))
	require.NoError(t, q.Enqueue(ctx, types.NewID()))
	require.Equal(t, 2, q.Pending())
	require.Len(t, q.ch, 2)
}

func TestRunProcessesTasks(t *testing.T) {
	counter := &countingCounter{counts: map[string]int{}}
	q := NewQueue(2, 10, Counter(counter))
	ctx, cancel := context.WithCancel(context.Background())

	var (
		lock sync.Mutex
		seen = map[types.ID]int{}
	)
	failing := types.NewID()
	handler := func(_ context.Context, stepID types.ID) error {
		lock.Lock()
		defer lock.Unlock()
		seen[stepID]++
		if stepID == failing {
			return errors.New("boom")
		}
		return nil
	}

	ids := []types.ID{types.NewID(), types.NewID(), failing}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(ctx, id))
	}
	done := make(chan struct{})
	go func() {
		q.Run(ctx, handler)
		close(done)
	}()

	require.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(seen) == len(ids)
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return counter.get("sync_failure_step") == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 0, q.Pending())

	// a processed step can be scheduled again
	require.NoError(t, q.Enqueue(ctx, ids[0]))
	require.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return seen[ids[0]] == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	require.ErrorIs(t, q.Enqueue(context.Background(), types.NewID()), ErrClosed)
}

func TestEnqueueCancelled(t *testing.T) {
	q := NewQueue(1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stepID := types.NewID()
	require.ErrorIs(t, q.Enqueue(ctx, stepID), context.Canceled)
	require.Equal(t, 0, q.Pending())
}

func TestEnqueuerFunc(t *testing.T) {
	var got types.ID
	var e Enqueuer = EnqueuerFunc(func(_ context.Context, stepID types.ID) error {
		got = stepID
		return nil
	})
	id := types.NewID()
	require.NoError(t, e.Enqueue(context.Background(), id))
	require.Equal(t, id, got)
}
