// Package host is the boundary between forumtap and the browser host that
// intercepts forum traffic. The host reports three kinds of event: an
// outgoing form submission, a page that finished loading and attachment
// bytes that became available. Each is routed to the session's aggregator.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/dyluth/forumtap/internal/aggregator"
	"github.com/dyluth/forumtap/internal/classify"
	"github.com/dyluth/forumtap/internal/eventlog"
	"github.com/dyluth/forumtap/internal/printer"
	"github.com/dyluth/forumtap/pkg/formdata"
)

// Decision tells the host whether to let an intercepted request proceed.
type Decision int

const (
	Allow Decision = iota
	Cancel
)

func (d Decision) String() string {
	if d == Cancel {
		return "cancel"
	}
	return "allow"
}

// ErrMissingBoundary is reported for multipart submissions whose
// Content-Type carries no usable boundary.
var ErrMissingBoundary = fmt.Errorf("%w: missing multipart boundary", formdata.ErrMalformedBody)

// maxURLEncodedBody bounds comment and note bodies read from a stream.
const maxURLEncodedBody = 4 << 20

// InterceptedRequest is one outgoing request as seen by the host. Exactly one
// of Body and BodyStream is used: a non-nil BodyStream wins and is decoded
// incrementally on its own goroutine, then closed.
type InterceptedRequest struct {
	URL        string
	Method     string
	Header     http.Header
	Body       []byte
	BodyStream io.ReadCloser
}

func (r InterceptedRequest) buffered() bool {
	return r.BodyStream == nil
}

// Options configure an Interceptor.
type Options struct {
	Classifier *classify.Classifier
	Decoder    formdata.Decoder
	Logger     *eventlog.Logger
	Alerter    printer.Alerter

	// CancelMalformed makes buffered submissions that fail to decode return
	// Cancel instead of Allow.
	CancelMalformed bool
}

// Interceptor routes host events to an aggregator.
type Interceptor struct {
	agg             *aggregator.Aggregator
	classifier      *classify.Classifier
	decoder         formdata.Decoder
	log             *eventlog.Logger
	alerter         printer.Alerter
	cancelMalformed bool

	streams sync.WaitGroup
}

// NewInterceptor returns an Interceptor feeding agg.
func NewInterceptor(agg *aggregator.Aggregator, opts Options) *Interceptor {
	if opts.Classifier == nil {
		opts.Classifier = classify.New(nil)
	}
	return &Interceptor{
		agg:             agg,
		classifier:      opts.Classifier,
		decoder:         opts.Decoder,
		log:             opts.Logger,
		alerter:         opts.Alerter,
		cancelMalformed: opts.CancelMalformed,
	}
}

// OnInterceptedRequest classifies req and hands it to the aggregator.
// Requests that are not forum submissions are always allowed.
func (i *Interceptor) OnInterceptedRequest(ctx context.Context, req InterceptedRequest) Decision {
	contentType := req.Header.Get("Content-Type")
	c := i.classifier.Classify(req.URL, req.Method, contentType)

	switch c.Intent {
	case classify.IntentWrite, classify.IntentEdit:
		return i.article(ctx, req, c)

	case classify.IntentComment, classify.IntentNote:
		i.urlEncoded(ctx, req, c.Intent)
		return Allow

	case classify.IntentLogin:
		closeStream(req)
		i.log.Event("login_observed", map[string]interface{}{"url": req.URL})
		return Allow

	default:
		closeStream(req)
		return Allow
	}
}

func (i *Interceptor) article(ctx context.Context, req InterceptedRequest, c classify.Classification) Decision {
	if !c.HasBoundary {
		closeStream(req)
		i.decodeFailed(c.Intent, req.URL, ErrMissingBoundary)
		return i.malformedDecision(req)
	}

	if req.buffered() {
		form, err := i.decoder.Decode(req.Body, c.Boundary)
		if err != nil {
			i.decodeFailed(c.Intent, req.URL, err)
			return i.malformedDecision(req)
		}
		if err := i.agg.ArticleDecoded(ctx, c.Intent, form); err != nil {
			i.emitFailed(c.Intent, err)
		}
		return Allow
	}

	ticket, err := i.agg.Begin(c.Intent)
	if err != nil {
		closeStream(req)
		i.emitFailed(c.Intent, err)
		return Allow
	}

	// The decode outlives the host's callback; only the values of ctx carry over.
	decodeCtx := context.WithoutCancel(ctx)
	i.streams.Add(1)
	go func() {
		defer i.streams.Done()
		defer req.BodyStream.Close()

		form, err := i.decoder.DecodeReader(req.BodyStream, c.Boundary)
		if err != nil {
			i.decodeFailed(c.Intent, req.URL, err)
			_ = i.agg.Abort(decodeCtx, ticket, err)
			return
		}
		if err := i.agg.Decoded(decodeCtx, ticket, form); err != nil {
			i.emitFailed(c.Intent, err)
		}
	}()
	return Allow
}

func (i *Interceptor) urlEncoded(ctx context.Context, req InterceptedRequest, intent classify.Intent) {
	body := req.Body
	if !req.buffered() {
		var err error
		body, err = io.ReadAll(io.LimitReader(req.BodyStream, maxURLEncodedBody+1))
		req.BodyStream.Close()
		if err != nil {
			i.decodeFailed(intent, req.URL, fmt.Errorf("read body: %w", err))
			return
		}
		if len(body) > maxURLEncodedBody {
			i.decodeFailed(intent, req.URL, fmt.Errorf("%w: %s body exceeds %d bytes", formdata.ErrMalformedBody, intent, maxURLEncodedBody))
			return
		}
	}

	form := formdata.ParseURLEncoded(string(body)).Form()

	var err error
	if intent == classify.IntentComment {
		err = i.agg.Comment(ctx, form)
	} else {
		err = i.agg.Note(ctx, form)
	}
	if err != nil {
		i.emitFailed(intent, err)
	}
}

// OnPageCommitted reports that the page at pageURL finished loading.
func (i *Interceptor) OnPageCommitted(ctx context.Context, pageURL string) error {
	return i.agg.PageCommitted(ctx, pageURL)
}

// OnAttachmentBytesReady reports the bytes of one uploaded attachment. slot is
// 1..10, or 0 when the host does not know the attachment's position.
func (i *Interceptor) OnAttachmentBytesReady(_ context.Context, slot int, data []byte) error {
	return i.agg.Attach(slot, data)
}

// Wait blocks until every streamed decode started so far has finished.
func (i *Interceptor) Wait() {
	i.streams.Wait()
}

func (i *Interceptor) malformedDecision(req InterceptedRequest) Decision {
	if i.cancelMalformed && req.buffered() {
		return Cancel
	}
	return Allow
}

func (i *Interceptor) decodeFailed(intent classify.Intent, url string, err error) {
	i.log.Error("decode_failed", err, map[string]interface{}{
		"intent":    string(intent),
		"url":       url,
		"malformed": errors.Is(err, formdata.ErrMalformedBody),
	})
	if i.alerter != nil {
		i.alerter.Alert(fmt.Sprintf("Could not read %s submission", intent), err.Error())
	}
}

// emitFailed logs aggregator errors that reach the boundary. Storage failures
// behind the dispatch queue are reported there instead.
func (i *Interceptor) emitFailed(intent classify.Intent, err error) {
	i.log.Error("submission_failed", err, map[string]interface{}{
		"intent": string(intent),
	})
}

func closeStream(req InterceptedRequest) {
	if req.BodyStream != nil {
		req.BodyStream.Close()
	}
}
