/*
Copyright (C) 2026  raftlog contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package asyncwriter implements component G: a bounded queue and a single
// background flusher task that decouples request-handling goroutines from
// disk I/O (spec §4.7). No teacher analogue exists — memcp writes
// synchronously from the apply path — so this is grounded on the pack's
// batching/flush idioms (see DESIGN.md) written in the teacher's
// channel-plus-single-owner-goroutine style (storage/cache.go's opChan).
package asyncwriter

import (
	"errors"
	"sync"

	"github.com/launix-de/raftlog/internal/envelope"
)

// ErrClosed is returned by Submit once the writer has begun draining.
var ErrClosed = errors.New("asyncwriter: closed")

// Appender is the minimal storage shape the writer task drives. Both
// engine.EventStore implementations (singlestore.Store, multistore.Store)
// satisfy it structurally.
type Appender interface {
	AppendEvent(aggregate string, env *envelope.Envelope) error
	FlushBatch(aggregate string) error
}

type submission struct {
	aggregate string
	env       *envelope.Envelope
	result    chan error
	barrier   bool // Flush barrier: no envelope, just forces a flush of touched shards
}

// Writer is a single-threaded-per-store async writer: exactly one
// background goroutine owns the Appender, so the total order of appends on
// disk matches the total order of Submit calls (spec §5).
type Writer struct {
	store    Appender
	queue    chan submission
	maxBatch int

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// New starts the background flusher task. queueSize bounds in-flight
// submissions (backpressure, spec §4.7); maxBatch bounds how many envelopes
// are appended before an intervening flush.
func New(store Appender, queueSize, maxBatch int) *Writer {
	if queueSize <= 0 {
		queueSize = 1
	}
	if maxBatch <= 0 {
		maxBatch = 1
	}
	w := &Writer{
		store:    store,
		queue:    make(chan submission, queueSize),
		maxBatch: maxBatch,
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit enqueues env for the given aggregate's log, blocking the caller
// when the queue is full — the mechanism by which request rate couples to
// disk throughput (spec §4.7, §5). It returns once the envelope has been
// appended to the in-memory batch buffer, not once it has reached disk;
// call Flush (on the Engine) for a durability barrier.
func (w *Writer) Submit(aggregate string, env *envelope.Envelope) error {
	result := make(chan error, 1)
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}
	select {
	case w.queue <- submission{aggregate: aggregate, env: env, result: result}:
	case <-w.closed:
		return ErrClosed
	}
	return <-result
}

// Flush blocks until every submission already enqueued has been appended
// and flushed to disk. Because the background task is the queue's only
// consumer and processes it in order, a barrier submission is only
// dequeued after everything ahead of it has been applied.
func (w *Writer) Flush() error {
	result := make(chan error, 1)
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}
	select {
	case w.queue <- submission{barrier: true, result: result}:
	case <-w.closed:
		return ErrClosed
	}
	return <-result
}

func (w *Writer) run() {
	defer close(w.done)
	touched := make(map[string]struct{}, 4)
	flushTouched := func() {
		for agg := range touched {
			w.store.FlushBatch(agg)
			delete(touched, agg)
		}
	}
	count := 0
	for {
		select {
		case sub, ok := <-w.queue:
			if !ok {
				flushTouched()
				return
			}
			if sub.barrier {
				flushTouched()
				sub.result <- nil
				continue
			}
			err := w.store.AppendEvent(sub.aggregate, sub.env)
			sub.result <- err
			touched[sub.aggregate] = struct{}{}
			count++
			if count >= w.maxBatch {
				flushTouched()
				count = 0
			}
		case <-w.closed:
			// Drain whatever is already queued before exiting (spec §4.7
			// "on shutdown, the task drains to empty before returning").
			for {
				select {
				case sub, ok := <-w.queue:
					if !ok {
						flushTouched()
						return
					}
					if sub.barrier {
						flushTouched()
						sub.result <- nil
						continue
					}
					err := w.store.AppendEvent(sub.aggregate, sub.env)
					sub.result <- err
					touched[sub.aggregate] = struct{}{}
				default:
					flushTouched()
					return
				}
			}
		}
	}
}

// Close signals the writer to drain and stop, and waits for the background
// goroutine to exit. Any in-flight unpersisted events beyond the drain are
// flushed before this returns; the caller (Engine.shutdown) is responsible
// for enforcing a bounded drain timeout (spec §5).
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.closed)
	})
	<-w.done
}
