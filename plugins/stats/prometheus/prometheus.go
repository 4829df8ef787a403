// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package prometheus

import (
	"net/http"
	"regexp"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/facebookincubator/buildsync/pkg/logging"
	"github.com/facebookincubator/buildsync/pkg/stats"
)

var log = logging.GetLogger("plugins/stats/prometheus")

var _ stats.Counter = &Counter{}

// Namespace prefixes every counter name.
const Namespace = "buildsync"

var invalidChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// Counter implements stats.Counter on top of prometheus counters. A counter
// is created the first time its key is incremented.
//
// Counters are never removed, keys must therefore come from a bounded set
// (e.g. HTTP status codes).
type Counter struct {
	locker   sync.Mutex
	registry *prometheus.Registry
	counters map[string]prometheus.Counter
}

// New returns a Counter registering its metrics in a dedicated registry.
func New() *Counter {
	return &Counter{
		registry: prometheus.NewRegistry(),
		counters: map[string]prometheus.Counter{},
	}
}

// Incr implements stats.Counter.
func (c *Counter) Incr(key string) {
	c.counter(key).Inc()
}

func (c *Counter) counter(key string) prometheus.Counter {
	c.locker.Lock()
	defer c.locker.Unlock()
	counter := c.counters[key]
	if counter != nil {
		return counter
	}
	counter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      invalidChars.ReplaceAllString(key, "_") + "_total",
		Help:      "number of " + key + " events",
	})
	if err := c.registry.Register(counter); err != nil {
		// two keys mapping to the same name share the counter
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			counter = are.ExistingCollector.(prometheus.Counter)
		} else {
			log.Warningf("could not register counter %q: %v", key, err)
		}
	}
	c.counters[key] = counter
	return counter
}

// Registry returns the registry holding the counters.
func (c *Counter) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the counters in the prometheus exposition format.
func (c *Counter) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
