// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package tasks defers step synchronizations to a pool of workers.
package tasks

import (
	"context"
	"errors"
	"sync"

	"github.com/facebookincubator/buildsync/pkg/logging"
	"github.com/facebookincubator/buildsync/pkg/stats"
	"github.com/facebookincubator/buildsync/pkg/types"
)

var log = logging.GetLogger("pkg/tasks")

// ErrClosed is returned when enqueuing into a stopped queue.
var ErrClosed = errors.New("task queue is closed")

// Enqueuer schedules the synchronization of a step. A step which is already
// pending is not scheduled twice.
type Enqueuer interface {
	Enqueue(ctx context.Context, stepID types.ID) error
}

// EnqueuerFunc adapts a function to the Enqueuer interface.
type EnqueuerFunc func(ctx context.Context, stepID types.ID) error

// Enqueue implements Enqueuer.
func (f EnqueuerFunc) Enqueue(ctx context.Context, stepID types.ID) error {
	return f(ctx, stepID)
}

// Handler processes a step.
type Handler func(ctx context.Context, stepID types.ID) error

// Queue is an in-process Enqueuer backed by a bounded channel.
type Queue struct {
	workers int
	counter stats.Counter

	lock    sync.Mutex
	pending map[types.ID]struct{}
	ch      chan types.ID
	closed  chan struct{}
	once    sync.Once
}

// Opt is a function type that sets parameters on the Queue object
type Opt func(q *Queue)

// Counter sets the counter incremented on handler failures.
func Counter(c stats.Counter) Opt {
	return func(q *Queue) {
		q.counter = c
	}
}

// NewQueue returns a queue processed by the given number of workers once
// Run is called. size bounds the number of pending tasks.
func NewQueue(workers, size int, opts ...Opt) *Queue {
	if workers < 1 {
		workers = 1
	}
	q := &Queue{
		workers: workers,
		counter: stats.Nop{},
		pending: make(map[types.ID]struct{}),
		ch:      make(chan types.ID, size),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue implements Enqueuer. It blocks while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, stepID types.ID) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	q.lock.Lock()
	if _, ok := q.pending[stepID]; ok {
		q.lock.Unlock()
		log.Debugf("step %s is already pending", stepID)
		return nil
	}
	q.pending[stepID] = struct{}{}
	q.lock.Unlock()

	select {
	case q.ch <- stepID:
		return nil
	case <-q.closed:
		q.forget(stepID)
		return ErrClosed
	case <-ctx.Done():
		q.forget(stepID)
		return ctx.Err()
	}
}

func (q *Queue) forget(stepID types.ID) {
	q.lock.Lock()
	delete(q.pending, stepID)
	q.lock.Unlock()
}

// Pending returns the number of tasks waiting for a worker.
func (q *Queue) Pending() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.pending)
}

// Run processes tasks with handler until ctx is done, then waits for the
// running handlers to return. Tasks still queued are dropped, the poll
// driver schedules them again on the next start.
func (q *Queue) Run(ctx context.Context, handler Handler) {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			q.work(ctx, worker, handler)
		}(i)
	}
	wg.Wait()
	q.once.Do(func() {
		close(q.closed)
	})
}

func (q *Queue) work(ctx context.Context, worker int, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case stepID := <-q.ch:
			// a step enqueued while it is being processed gets a new run
			q.forget(stepID)
			if err := handler(ctx, stepID); err != nil {
				log.WithField("worker", worker).Warningf("could not sync step %s: %v", stepID, err)
				q.counter.Incr(stats.KeySyncFailure + "step")
			}
		}
	}
}
