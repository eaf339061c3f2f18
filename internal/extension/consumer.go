// Package extension consumes the named messages a companion browser extension
// publishes on the instance's Redis message bus and routes them to the same
// aggregator operations the in-process host uses.
//
// Message names:
//
//	writeForm        article fields; "intent": "edit" marks an edit
//	commentForm      comment fields (plain text, not yet url-encoded)
//	noteForm         note fields (plain text, not yet url-encoded)
//	attach<N>        attachment bytes for slot N; bare "attach" has no slot
//	document loaded  page load, page URL in the "url" field
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dyluth/forumtap/internal/aggregator"
	"github.com/dyluth/forumtap/internal/classify"
	"github.com/dyluth/forumtap/internal/eventlog"
	"github.com/dyluth/forumtap/pkg/formdata"
	"github.com/dyluth/forumtap/pkg/mirror"
)

const (
	MessageWriteForm      = "writeForm"
	MessageCommentForm    = "commentForm"
	MessageNoteForm       = "noteForm"
	MessageDocumentLoaded = "document loaded"

	attachPrefix = "attach"

	fieldIntent = "intent"
	fieldURL    = "url"
)

// ErrUnknownMessage is returned by Handle for names it does not route.
var ErrUnknownMessage = errors.New("unknown extension message")

// Subscriber opens the message stream. *mirror.Client implements it.
type Subscriber interface {
	SubscribeMessages(ctx context.Context) (*mirror.Subscription[mirror.Message], error)
}

// Consumer routes extension messages to an aggregator.
type Consumer struct {
	sub Subscriber
	agg *aggregator.Aggregator
	log *eventlog.Logger
}

// NewConsumer creates a consumer. sub may be nil when only Handle is used.
func NewConsumer(sub Subscriber, agg *aggregator.Aggregator, logger *eventlog.Logger) *Consumer {
	return &Consumer{sub: sub, agg: agg, log: logger}
}

// Run processes messages until ctx is cancelled or the subscription ends.
// Failures on single messages are logged and do not stop the loop.
func (c *Consumer) Run(ctx context.Context) error {
	subscription, err := c.sub.SubscribeMessages(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to extension messages: %w", err)
	}
	defer subscription.Close()

	c.log.Printf("Subscribed to extension messages")

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-subscription.Events():
			if !ok {
				c.log.Printf("Subscription closed")
				return nil
			}
			if err := c.Handle(ctx, msg); err != nil {
				c.log.Error("message_failed", err, map[string]interface{}{
					"message": msg.Name,
				})
			}

		case err, ok := <-subscription.Errors():
			if !ok {
				return nil
			}
			c.log.Warn("message_undecodable", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// Handle routes one message.
func (c *Consumer) Handle(ctx context.Context, msg *mirror.Message) error {
	switch {
	case msg.Name == MessageWriteForm:
		intent := classify.IntentWrite
		if strings.EqualFold(msg.Fields[fieldIntent], string(classify.IntentEdit)) {
			intent = classify.IntentEdit
		}
		form := formdata.FromStrings(withoutField(msg.Fields, fieldIntent))
		return c.agg.ArticleDecoded(ctx, intent, form)

	case msg.Name == MessageCommentForm:
		return c.agg.Comment(ctx, encodedForm(msg.Fields))

	case msg.Name == MessageNoteForm:
		return c.agg.Note(ctx, encodedForm(msg.Fields))

	case msg.Name == MessageDocumentLoaded:
		pageURL := msg.Fields[fieldURL]
		if pageURL == "" {
			return fmt.Errorf("%s message has no %q field", msg.Name, fieldURL)
		}
		return c.agg.PageCommitted(ctx, pageURL)

	case strings.HasPrefix(msg.Name, attachPrefix):
		slot, err := attachSlot(msg.Name)
		if err != nil {
			return err
		}
		return c.agg.Attach(slot, msg.Data)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Name)
	}
}

// attachSlot parses "attach<N>"; a bare "attach" has slot 0.
func attachSlot(name string) (int, error) {
	suffix := strings.TrimPrefix(name, attachPrefix)
	if suffix == "" {
		return 0, nil
	}
	slot, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMessage, name)
	}
	return slot, nil
}

// encodedForm form-encodes plain-text fields the way the browser would, so
// they match the same submission intercepted as a request body.
func encodedForm(fields map[string]string) formdata.Form {
	encoded := make(map[string]string, len(fields))
	for name, value := range fields {
		encoded[name] = url.QueryEscape(value)
	}
	return formdata.FromStrings(encoded)
}

func withoutField(fields map[string]string, name string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if k != name {
			out[k] = v
		}
	}
	return out
}
