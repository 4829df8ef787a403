// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package event

import (
	"context"
	"sync"
)

// Publisher announces events to interested parties. Publishing is best
// effort, a failure must not invalidate what was already persisted.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps every published event in memory.
type Recorder struct {
	lock   sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, ev Event) error {
	if err := ev.Name.Validate(); err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]Event(nil), r.events...)
}
