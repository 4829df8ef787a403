// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package httppublisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/facebookincubator/buildsync/pkg/event"
	"github.com/facebookincubator/buildsync/pkg/logging"
)

var log = logging.GetLogger("plugins/publishers/httppublisher")

var (
	DefaultBufferSize     = 64
	DefaultPublishTimeout = 1 * time.Second
)

// HTTPPublisher POSTs events as JSON to {addr}/events. Events are buffered
// and sent from a background goroutine, so that slow receivers never block
// the replication.
type HTTPPublisher struct {
	Addr       string
	client     *http.Client
	eventChan  chan event.Event
	closeChan  chan struct{}
	closeOnce  sync.Once
	done       chan struct{}
	bufferSize int
	timeout    time.Duration
}

// Opt is a function type that sets parameters on the HTTPPublisher object
type Opt func(p *HTTPPublisher)

// HTTPClient sets the client used to send events.
func HTTPClient(c *http.Client) Opt {
	return func(p *HTTPPublisher) {
		p.client = c
	}
}

// BufferSize sets the number of events which can be pending.
func BufferSize(size int) Opt {
	return func(p *HTTPPublisher) {
		p.bufferSize = size
	}
}

// Timeout bounds the time Publish waits for buffer space.
func Timeout(d time.Duration) Opt {
	return func(p *HTTPPublisher) {
		p.timeout = d
	}
}

// New starts a publisher sending events to addr.
func New(addr string, opts ...Opt) (*HTTPPublisher, error) {
	u, err := url.ParseRequestURI(addr)
	if err != nil {
		return nil, err
	}
	// add the endpoint to the receiver addr
	u.Path = path.Join(u.Path, "events")

	p := &HTTPPublisher{
		Addr:       u.String(),
		client:     &http.Client{Timeout: 10 * time.Second},
		closeChan:  make(chan struct{}),
		done:       make(chan struct{}),
		bufferSize: DefaultBufferSize,
		timeout:    DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.eventChan = make(chan event.Event, p.bufferSize)

	go p.eventHandler()
	return p, nil
}

// Publish implements event.Publisher. The event is dropped with an error if
// the buffer stays full for longer than the publish timeout.
func (p *HTTPPublisher) Publish(ctx context.Context, ev event.Event) error {
	if err := ev.Name.Validate(); err != nil {
		return err
	}
	// timeout is used to not block the replication on the receiver
	timeout := time.NewTimer(p.timeout)
	defer timeout.Stop()
	select {
	case p.eventChan <- ev:
		return nil
	case <-p.closeChan:
		return fmt.Errorf("publisher is closed")
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return fmt.Errorf("timed out publishing %s event of job %s", ev.Name, ev.JobID)
	}
}

// eventHandler consumes eventChan and pushes the events to the receiver
func (p *HTTPPublisher) eventHandler() {
	defer close(p.done)
	for {
		select {
		case ev := <-p.eventChan:
			p.send(ev)
		case <-p.closeChan:
			// flush what is already buffered
			for {
				select {
				case ev := <-p.eventChan:
					p.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *HTTPPublisher) send(ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warningf("could not encode %s event: %v", ev.Name, err)
		return
	}
	resp, err := p.client.Post(p.Addr, "application/json", bytes.NewReader(data))
	if err != nil {
		log.Warningf("could not publish %s event of job %s: %v", ev.Name, ev.JobID, err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		log.Warningf("receiver rejected %s event of job %s: %s", ev.Name, ev.JobID, resp.Status)
	}
}

// Close stops the background goroutine once the buffered events are sent.
func (p *HTTPPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.closeChan)
	})
	<-p.done
}
