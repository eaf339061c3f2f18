package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dyluth/forumtap/internal/eventlog"
	"github.com/dyluth/forumtap/pkg/mirror"
	"github.com/hibiken/asynq"
)

const (
	// MirrorRecordTask carries one full record, attachment bytes included,
	// to a worker that writes it to its own sink.
	MirrorRecordTask = "record:mirror"

	defaultQueueRetries = 5
)

// enqueuer is the slice of *asynq.Client the queue sink uses.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// QueueSink hands records to background workers through asynq.
type QueueSink struct {
	client     enqueuer
	maxRetries int
}

// NewQueueSink connects an asynq client to the Redis at redisURL.
func NewQueueSink(redisURL string, maxRetries int) (*QueueSink, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid queue redis url: %w", err)
	}
	return newQueueSink(asynq.NewClient(opt), maxRetries), nil
}

func newQueueSink(client enqueuer, maxRetries int) *QueueSink {
	if maxRetries <= 0 {
		maxRetries = defaultQueueRetries
	}
	return &QueueSink{client: client, maxRetries: maxRetries}
}

// Name implements Sink.
func (s *QueueSink) Name() string {
	return "queue"
}

// Emit implements Sink.
func (s *QueueSink) Emit(ctx context.Context, r *mirror.Record) error {
	return storageError(s.Name(), r, s.enqueue(ctx, r))
}

func (s *QueueSink) enqueue(ctx context.Context, r *mirror.Record) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(MirrorRecordTask, data)
	if _, err := s.client.EnqueueContext(ctx, task, asynq.MaxRetry(s.maxRetries), asynq.TaskID(r.ID)); err != nil {
		return fmt.Errorf("enqueue mirror task: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *QueueSink) Close() error {
	return s.client.Close()
}

// Processor is plugged into the asynq worker loop and writes every queued
// record to its target sink.
type Processor struct {
	target Sink
	log    *eventlog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(target Sink, logger *eventlog.Logger) *Processor {
	return &Processor{target: target, log: logger}
}

// Handler registers the mirror job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(MirrorRecordTask, p.HandleMirror)
	return mux
}

// HandleMirror decodes one queued record and emits it to the target sink.
func (p *Processor) HandleMirror(ctx context.Context, task *asynq.Task) error {
	var r mirror.Record
	if err := json.Unmarshal(task.Payload(), &r); err != nil {
		// Retrying cannot fix a payload that does not decode.
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := p.target.Emit(ctx, &r); err != nil {
		p.log.Error("mirror_failed", err, map[string]interface{}{
			"record_id": r.ID,
			"sink":      p.target.Name(),
		})
		return err
	}

	p.log.Event("record_mirrored", map[string]interface{}{
		"record_id": r.ID,
		"kind":      string(r.Kind),
		"sink":      p.target.Name(),
	})
	return nil
}
