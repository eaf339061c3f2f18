// Package dispatch moves finished records from the aggregator to the storage
// sinks on a background goroutine, so that a slow or failing store never
// holds up the intercept path.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/forumtap/internal/eventlog"
	"github.com/dyluth/forumtap/internal/printer"
	"github.com/dyluth/forumtap/internal/sink"
	"github.com/dyluth/forumtap/pkg/mirror"
)

const (
	DefaultBuffer      = 64
	DefaultEmitTimeout = 10 * time.Second
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("dispatch queue closed")

// Options configure a Queue. Zero values select the defaults.
type Options struct {
	Buffer      int
	EmitTimeout time.Duration
	Logger      *eventlog.Logger
	Alerter     printer.Alerter
}

// Queue hands records to a sink one at a time, in emission order.
// Storage failures are logged and alerted; records are never retried.
type Queue struct {
	target  sink.Sink
	timeout time.Duration
	log     *eventlog.Logger
	alerter printer.Alerter

	mu      sync.RWMutex
	closed  bool
	records chan *mirror.Record
	done    chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
}

// New starts a Queue delivering to target.
func New(target sink.Sink, opts Options) *Queue {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.EmitTimeout <= 0 {
		opts.EmitTimeout = DefaultEmitTimeout
	}

	q := &Queue{
		target:  target,
		timeout: opts.EmitTimeout,
		log:     opts.Logger,
		alerter: opts.Alerter,
		records: make(chan *mirror.Record, opts.Buffer),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Emit queues r for delivery. It blocks while the buffer is full, until ctx
// is done.
func (q *Queue) Emit(ctx context.Context, r *mirror.Record) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.records <- r:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue record %s: %w", r.ID, ctx.Err())
	}
}

// Close stops accepting records, delivers everything already queued and
// closes the target sink.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closed = true
	close(q.records)
	q.mu.Unlock()

	<-q.done
	return q.target.Close()
}

// Delivered returns how many records every sink accepted.
func (q *Queue) Delivered() int64 {
	return q.delivered.Load()
}

// Failed returns how many records at least one sink rejected.
func (q *Queue) Failed() int64 {
	return q.failed.Load()
}

func (q *Queue) run() {
	defer close(q.done)
	for r := range q.records {
		q.deliver(r)
	}
}

func (q *Queue) deliver(r *mirror.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	err := q.target.Emit(ctx, r)
	if err == nil {
		q.delivered.Add(1)
		return
	}

	q.failed.Add(1)
	storageErrs := sink.StorageErrors(err)
	if len(storageErrs) == 0 {
		storageErrs = []*sink.StorageError{{Sink: q.target.Name(), RecordID: r.ID, Err: err}}
	}

	for _, se := range storageErrs {
		q.log.Error("storage_failed", se.Err, map[string]interface{}{
			"sink":      se.Sink,
			"record_id": se.RecordID,
			"kind":      string(r.Kind),
		})
		if q.alerter != nil {
			q.alerter.Alert(fmt.Sprintf("Could not save %s to %s", r.Kind, se.Sink), se.Error())
		}
	}
}
