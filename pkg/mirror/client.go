package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for mirrored records and
// the extension message bus. All keys and channels are namespaced with the
// instance name. The client is safe for concurrent use.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new client for the specified instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a client for it.
func NewClientFromURL(redisURL, instanceName string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewClient(opts, instanceName)
}

// InstanceName returns the namespace this client writes under.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// maxSaveAttempts bounds SaveRecord's optimistic retries when another save of
// the same article commits first.
const maxSaveAttempts = 10

// SaveRecord validates and stores a record, then publishes a summary of it on
// the record events channel.
//
// Articles with a known server id replace any record previously stored for
// that id, and updated reports true. Sentinel-id articles, comments and notes
// always create a new record.
func (c *Client) SaveRecord(ctx context.Context, r *Record) (updated bool, err error) {
	if err := r.Validate(); err != nil {
		return false, fmt.Errorf("invalid record: %w", err)
	}

	hash, err := RecordToHash(r)
	if err != nil {
		return false, fmt.Errorf("failed to serialize record: %w", err)
	}

	var previousID string
	save := func(tx *redis.Tx) error {
		previousID = ""
		if r.Article != nil && r.Article.HasID() {
			id, err := tx.HGet(ctx, ArticleIndexKey(c.instanceName), strconv.FormatInt(r.Article.ID, 10)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("failed to read article index: %w", err)
			}
			previousID = id
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if previousID != "" && previousID != r.ID {
				pipe.Del(ctx, RecordKey(c.instanceName, previousID), RecordAttachmentsKey(c.instanceName, previousID))
				pipe.ZRem(ctx, RecordIndexKey(c.instanceName), previousID)
			}

			pipe.HSet(ctx, RecordKey(c.instanceName, r.ID), hash)
			pipe.ZAdd(ctx, RecordIndexKey(c.instanceName), redis.Z{
				Score:  float64(r.CreatedAtMs),
				Member: r.ID,
			})

			if r.Article != nil {
				if r.Article.HasID() {
					pipe.HSet(ctx, ArticleIndexKey(c.instanceName), strconv.FormatInt(r.Article.ID, 10), r.ID)
				}
				if len(r.Article.Attachments) > 0 {
					payloads := make(map[string]interface{}, len(r.Article.Attachments))
					for i, att := range r.Article.Attachments {
						payloads[strconv.Itoa(i)] = att.Data
					}
					pipe.HSet(ctx, RecordAttachmentsKey(c.instanceName, r.ID), payloads)
				}
			}
			return nil
		})
		return err
	}

	// The article index is watched so a concurrent save of the same article
	// cannot slip in between the lookup and the write.
	var watched []string
	if r.Article != nil && r.Article.HasID() {
		watched = append(watched, ArticleIndexKey(c.instanceName))
	}
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		err = c.rdb.Watch(ctx, save, watched...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return false, fmt.Errorf("failed to write record to Redis: %w", err)
	}

	eventJSON, err := json.Marshal(r.Summary())
	if err != nil {
		return false, fmt.Errorf("failed to marshal record for event: %w", err)
	}

	if err := c.rdb.Publish(ctx, RecordEventsChannel(c.instanceName), eventJSON).Err(); err != nil {
		return false, fmt.Errorf("failed to publish record event: %w", err)
	}

	return previousID != "" && previousID != r.ID, nil
}

// GetRecord retrieves a record by ID, attachment payloads included.
// Returns (nil, redis.Nil) if the record doesn't exist.
func (c *Client) GetRecord(ctx context.Context, recordID string) (*Record, error) {
	hashData, err := c.rdb.HGetAll(ctx, RecordKey(c.instanceName, recordID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read record from Redis: %w", err)
	}

	// HGetAll returns an empty map for missing keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	r, err := HashToRecord(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize record: %w", err)
	}

	if r.Article != nil && len(r.Article.Attachments) > 0 {
		payloads, err := c.rdb.HGetAll(ctx, RecordAttachmentsKey(c.instanceName, recordID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read attachments from Redis: %w", err)
		}
		for i := range r.Article.Attachments {
			if data, ok := payloads[strconv.Itoa(i)]; ok {
				r.Article.Attachments[i].Data = []byte(data)
			}
		}
	}

	return r, nil
}

// RecordIDForArticle looks up the record stored for a server article id.
// Returns ("", redis.Nil) when the article has not been mirrored.
func (c *Client) RecordIDForArticle(ctx context.Context, articleID int64) (string, error) {
	id, err := c.rdb.HGet(ctx, ArticleIndexKey(c.instanceName), strconv.FormatInt(articleID, 10)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", redis.Nil
		}
		return "", fmt.Errorf("failed to read article index: %w", err)
	}
	return id, nil
}

// ListRecordIDs returns record ids created at or after sinceMs, oldest first.
// Pass 0 for all records.
func (c *Client) ListRecordIDs(ctx context.Context, sinceMs int64) ([]string, error) {
	ids, err := c.rdb.ZRangeByScore(ctx, RecordIndexKey(c.instanceName), &redis.ZRangeBy{
		Min: strconv.FormatInt(sinceMs, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return ids, nil
}

// Message is one named event posted by the browser extension's content
// scripts: a flat field map plus optional binary data.
type Message struct {
	Name   string            `json:"name"`
	Fields map[string]string `json:"fields,omitempty"`
	Data   []byte            `json:"data,omitempty"`
}

// PublishMessage posts an extension message on the instance's message bus.
func (c *Client) PublishMessage(ctx context.Context, m *Message) error {
	if m.Name == "" {
		return fmt.Errorf("message name cannot be empty")
	}

	messageJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := c.rdb.Publish(ctx, MessagesChannel(c.instanceName), messageJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscription is an active Pub/Sub subscription delivering decoded values.
// Caller must call Close() when done.
type Subscription[T any] struct {
	events <-chan *T
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of decoded values. It is closed when the
// subscription is closed or its context is cancelled.
func (s *Subscription[T]) Events() <-chan *T {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors (undecodable
// payloads). The subscription keeps running after an error.
func (s *Subscription[T]) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription[T]) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeRecordEvents subscribes to saved-record events for this instance.
// Records arrive without attachment payloads.
func (c *Client) SubscribeRecordEvents(ctx context.Context) (*Subscription[Record], error) {
	return subscribe[Record](ctx, c.rdb, RecordEventsChannel(c.instanceName), "record event")
}

// SubscribeMessages subscribes to the extension message bus for this instance.
func (c *Client) SubscribeMessages(ctx context.Context) (*Subscription[Message], error) {
	return subscribe[Message](ctx, c.rdb, MessagesChannel(c.instanceName), "extension message")
}

// subscribe starts a goroutine that decodes JSON payloads from channel into
// buffered (size 10) event and error channels. Redis Pub/Sub is at-most-once,
// so a slow subscriber may miss messages.
func subscribe[T any](ctx context.Context, rdb *redis.Client, channel, what string) (*Subscription[T], error) {
	pubsub := rdb.Subscribe(ctx, channel)

	// Wait for the subscription to be confirmed so that nothing published
	// after we return is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	eventsChan := make(chan *T, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var value T
				if err := json.Unmarshal([]byte(msg.Payload), &value); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal %s: %w", what, err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &value:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription[T]{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
