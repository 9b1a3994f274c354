// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

// Package alert delivers high-severity findings to external channels.
// Dispatch is fire-and-forget: the detectors construct the payload and
// enqueue it; delivery failures are logged and counted, never propagated
// back into an evaluation.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/jmcrae/vigil/internal/logging"
	"github.com/jmcrae/vigil/internal/metrics"
)

// Alert is one outbound notification payload.
type Alert struct {
	Severity    string            `json:"severity"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Context     map[string]string `json:"context,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Notifier delivers an alert to one external channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// Dispatcher fans alerts out to notifiers from a bounded queue. Enqueueing
// never blocks; when the queue is full the alert is dropped and counted.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan Alert

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewDispatcher builds a dispatcher with the given queue capacity.
func NewDispatcher(queueSize int, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan Alert, queueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Dispatch enqueues the alert, reporting whether it was accepted.
func (d *Dispatcher) Dispatch(a Alert) bool {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	select {
	case d.queue <- a:
		return true
	default:
		metrics.AlertsDropped.Inc()
		logging.Warn().Str("title", a.Title).Msg("alert queue full, dropping alert")
		return false
	}
}

// Serve drains the queue until ctx is cancelled or Stop is called. It is
// run as a supervised service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	defer close(d.done)
	for {
		select {
		case a := <-d.queue:
			d.deliver(ctx, a)
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stop:
			return nil
		}
	}
}

// Stop terminates Serve and waits for it to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

func (d *Dispatcher) deliver(ctx context.Context, a Alert) {
	for _, n := range d.notifiers {
		if err := n.Notify(ctx, a); err != nil {
			metrics.AlertsDispatched.WithLabelValues(n.Name(), "error").Inc()
			logging.Err(err).Str("notifier", n.Name()).Str("title", a.Title).
				Msg("alert delivery failed")
			continue
		}
		metrics.AlertsDispatched.WithLabelValues(n.Name(), "ok").Inc()
	}
}
