package sink

import (
	"context"

	"github.com/dyluth/forumtap/pkg/mirror"
)

// RedisSink saves records through the shared mirror client. It does not own
// the client; Close is a no-op.
type RedisSink struct {
	client *mirror.Client
}

// NewRedisSink returns a sink writing through client.
func NewRedisSink(client *mirror.Client) *RedisSink {
	return &RedisSink{client: client}
}

// Name implements Sink.
func (s *RedisSink) Name() string {
	return "redis"
}

// Emit implements Sink.
func (s *RedisSink) Emit(ctx context.Context, r *mirror.Record) error {
	_, err := s.client.SaveRecord(ctx, r)
	return storageError(s.Name(), r, err)
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	return nil
}
