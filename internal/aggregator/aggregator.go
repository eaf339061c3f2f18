// Package aggregator correlates the separate, unordered signals that make up
// one forum submission (the decoded form, attachment uploads and the page
// load that reveals the server-assigned id) and emits exactly one finished
// record per user action.
//
// One Aggregator serves one browser session. All mutations are serialized;
// emission to the sink happens after the state has already moved on, so a
// sink failure never rolls the aggregator back.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/dyluth/forumtap/internal/attachments"
	"github.com/dyluth/forumtap/internal/classify"
	"github.com/dyluth/forumtap/internal/eventlog"
	"github.com/dyluth/forumtap/pkg/formdata"
	"github.com/dyluth/forumtap/pkg/mirror"
)

var (
	// ErrNotArticle is returned when Begin is given a non-article intent.
	ErrNotArticle = errors.New("intent does not start an article")

	// ErrNoPending is returned when an attachment arrives with nothing pending.
	ErrNoPending = errors.New("no pending submission")
)

// Sink receives finished records.
type Sink interface {
	Emit(ctx context.Context, r *mirror.Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, r *mirror.Record) error

// Emit calls f(ctx, r).
func (f SinkFunc) Emit(ctx context.Context, r *mirror.Record) error {
	return f(ctx, r)
}

// Aggregator is the submission state machine.
type Aggregator struct {
	mu    sync.Mutex
	state state
	next  Ticket

	sink Sink
	log  *eventlog.Logger
	now  func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the structured logger.
func WithLogger(l *eventlog.Logger) Option {
	return func(a *Aggregator) { a.log = l }
}

// WithClock sets the clock used for record and attachment timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New returns an idle Aggregator emitting to sink.
func New(sink Sink, opts ...Option) *Aggregator {
	a := &Aggregator{
		state: idle{},
		sink:  sink,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the name of the current state.
func (a *Aggregator) State() StateName {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.name()
}

// Begin starts a write or edit submission whose form is still being decoded.
// Attachments arriving from now on belong to it. The returned ticket must be
// passed to Decoded or Abort.
func (a *Aggregator) Begin(intent classify.Intent) (Ticket, error) {
	if !intent.IsArticle() {
		return 0, fmt.Errorf("%w: %s", ErrNotArticle, intent)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.beginLocked(intent), nil
}

// Decoded supplies the decoded form for ticket. Edits are emitted at once;
// new articles wait for PageCommitted unless the commit already arrived.
// A ticket that no longer matches any pending submission is ignored.
func (a *Aggregator) Decoded(ctx context.Context, ticket Ticket, form formdata.Form) error {
	a.mu.Lock()
	rec := a.decodedLocked(ticket, form)
	a.mu.Unlock()

	return a.emit(ctx, rec)
}

// ArticleDecoded is Begin followed by Decoded for a form that is already
// fully decoded (buffered bodies, extension messages).
func (a *Aggregator) ArticleDecoded(ctx context.Context, intent classify.Intent, form formdata.Form) error {
	if !intent.IsArticle() {
		return fmt.Errorf("%w: %s", ErrNotArticle, intent)
	}

	a.mu.Lock()
	ticket := a.beginLocked(intent)
	rec := a.decodedLocked(ticket, form)
	a.mu.Unlock()

	return a.emit(ctx, rec)
}

// Abort reports that decoding the form for ticket failed. The aggregator
// returns to the state it was in before Begin; attachments collected for the
// failed submission are dropped.
func (a *Aggregator) Abort(ctx context.Context, ticket Ticket, cause error) error {
	a.mu.Lock()
	var rec *mirror.Record

	current := pendingOf(a.state)
	switch {
	case current != nil && current.ticket == ticket:
		a.state = current.previous
		if a.state == nil {
			a.state = idle{}
		}
		a.log.Error("submission_aborted", cause, map[string]interface{}{
			"ticket":              uint64(ticket),
			"intent":              string(current.intent),
			"attachments_dropped": current.collector.Len(),
			"restored_state":      string(a.state.name()),
		})
		rec = a.settleLocked()

	case a.unlinkSuperseded(ticket):
		a.log.Error("superseded_submission_aborted", cause, map[string]interface{}{
			"ticket": uint64(ticket),
		})

	default:
		a.log.Warn("stale_abort_ignored", map[string]interface{}{
			"ticket": uint64(ticket),
		})
	}
	a.mu.Unlock()

	return a.emit(ctx, rec)
}

// Attach adds an uploaded attachment to the pending submission. slot is the
// 1-based attachment slot, or 0 when the host could not tell. With nothing
// pending the data is dropped and ErrNoPending returned.
func (a *Aggregator) Attach(slot int, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := pendingOf(a.state)
	if p == nil {
		a.log.Warn("attachment_dropped", map[string]interface{}{
			"slot":   slot,
			"size":   len(data),
			"reason": "no pending submission",
		})
		return ErrNoPending
	}

	var err error
	if slot == 0 {
		err = p.collector.Append(data)
	} else {
		var replaced bool
		replaced, err = p.collector.Put(slot, data)
		if replaced {
			a.log.Warn("attachment_replaced", map[string]interface{}{
				"ticket": uint64(p.ticket),
				"slot":   slot,
			})
		}
	}
	if err != nil {
		a.log.Warn("attachment_rejected", map[string]interface{}{
			"ticket": uint64(p.ticket),
			"slot":   slot,
			"size":   len(data),
			"error":  err.Error(),
		})
		return err
	}

	a.log.Event("attachment_received", map[string]interface{}{
		"ticket":   uint64(p.ticket),
		"slot":     slot,
		"size":     len(data),
		"received": p.collector.Len(),
	})
	return nil
}

// PageCommitted handles a completed page load. When a new article is pending
// and the page URL carries an "aid" query parameter, that id resolves the
// article and it is emitted. If the article's form is still being decoded
// the id is held until Decoded.
func (a *Aggregator) PageCommitted(ctx context.Context, pageURL string) error {
	id, hasID := ArticleIDFromURL(pageURL)

	a.mu.Lock()
	st, ok := a.state.(pendingNew)
	if !ok {
		a.mu.Unlock()
		return nil
	}

	if !hasID {
		a.log.Event("commit_without_id", map[string]interface{}{
			"ticket": uint64(st.ticket),
			"url":    pageURL,
		})
		a.mu.Unlock()
		return nil
	}

	if st.committedID != nil && *st.committedID != id {
		a.log.Warn("commit_id_replaced", map[string]interface{}{
			"ticket":      uint64(st.ticket),
			"previous_id": *st.committedID,
			"article_id":  id,
		})
	}
	st.committedID = &id

	if !st.decoded {
		a.log.Event("commit_held", map[string]interface{}{
			"ticket":     uint64(st.ticket),
			"article_id": id,
		})
	}

	rec := a.settleLocked()
	a.mu.Unlock()

	return a.emit(ctx, rec)
}

// Comment emits a comment record straight from its url-encoded form. The
// body keeps its percent-encoded form with '+' rewritten as %20.
func (a *Aggregator) Comment(ctx context.Context, form formdata.Form) error {
	rec := mirror.NewCommentRecord(&mirror.Comment{
		ArticleID: intField(form, FieldArticleID, 0),
		BoardID:   intField(form, FieldBoardID, 0),
		Body:      string(formdata.EncodedValue(form.Get(FieldBody)).SpacesNormalized()),
	}, a.now())

	a.log.Event("record_emitted", map[string]interface{}{
		"record_id":  rec.ID,
		"kind":       string(rec.Kind),
		"article_id": rec.Comment.ArticleID,
	})
	return a.emit(ctx, rec)
}

// Note emits a note record straight from its url-encoded form.
func (a *Aggregator) Note(ctx context.Context, form formdata.Form) error {
	rec := mirror.NewNoteRecord(&mirror.Note{
		Recipient: formdata.EncodedValue(form.Get(FieldRecipient)).SpacesNormalized().Decode(),
		Body:      string(formdata.EncodedValue(form.Get(FieldBody)).SpacesNormalized()),
	}, a.now())

	a.log.Event("record_emitted", map[string]interface{}{
		"record_id": rec.ID,
		"kind":      string(rec.Kind),
		"recipient": rec.Note.Recipient,
	})
	return a.emit(ctx, rec)
}

// Flush ends the session. A decoded new article whose id never arrived is
// emitted with mirror.SentinelID; a submission still being decoded is
// dropped. The aggregator is idle afterwards.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	var rec *mirror.Record

	if p := pendingOf(a.state); p != nil {
		if p.decoded {
			id := p.article.ID
			if p.intent != classify.IntentEdit {
				id = mirror.SentinelID
			}
			a.log.Warn("flushed_without_commit", map[string]interface{}{
				"ticket": uint64(p.ticket),
				"intent": string(p.intent),
			})
			rec = a.finishLocked(p, id)
		} else {
			a.log.Warn("pending_dropped", map[string]interface{}{
				"ticket":      uint64(p.ticket),
				"intent":      string(p.intent),
				"attachments": p.collector.Len(),
				"reason":      "form still decoding at session end",
			})
		}
	}
	a.state = idle{}
	a.mu.Unlock()

	return a.emit(ctx, rec)
}

func (a *Aggregator) beginLocked(intent classify.Intent) Ticket {
	a.next++
	p := &PendingSubmission{
		ticket:    a.next,
		intent:    intent,
		startedAt: a.now(),
		article: mirror.Article{
			ID:                  mirror.SentinelID,
			DeclaredAttachments: -1,
		},
		collector: attachments.New(a.now),
		previous:  a.state,
	}
	a.state = wrap(p)

	a.log.Event("submission_started", map[string]interface{}{
		"ticket": uint64(p.ticket),
		"intent": string(intent),
	})
	return p.ticket
}

func (a *Aggregator) decodedLocked(ticket Ticket, form formdata.Form) *mirror.Record {
	current := pendingOf(a.state)
	if current == nil || current.ticket != ticket {
		if p := a.findSuperseded(ticket); p != nil {
			a.fill(p, form)
			a.log.Warn("superseded_submission_decoded", map[string]interface{}{
				"ticket":         uint64(ticket),
				"current_ticket": ticketOf(current),
			})
			return nil
		}
		a.log.Warn("stale_decode_ignored", map[string]interface{}{
			"ticket": uint64(ticket),
		})
		return nil
	}

	a.fill(current, form)

	// The transition is complete: whatever was pending before is gone.
	for prev := pendingOf(current.previous); prev != nil; prev = pendingOf(prev.previous) {
		a.log.Warn("pending_discarded", map[string]interface{}{
			"ticket":      uint64(prev.ticket),
			"intent":      string(prev.intent),
			"decoded":     prev.decoded,
			"attachments": prev.collector.Len(),
			"replaced_by": uint64(current.ticket),
		})
	}
	current.previous = idle{}

	return a.settleLocked()
}

// fill copies the decoded form into a pending submission.
func (a *Aggregator) fill(p *PendingSubmission, form formdata.Form) {
	art := &p.article
	art.BoardID = intField(form, FieldBoardID, 0)
	art.BoardTitle = form.Get(FieldBoardTitle)
	art.Page = intField(form, FieldPage, 0)
	art.Title = form.Get(FieldTitle)
	art.Body = form.Get(FieldBody)
	art.DeclaredAttachments = declaredAttachments(form)
	art.Edited = p.intent == classify.IntentEdit

	// Server ids are never negative; treat one like a missing aid.
	aid, hasAID := form.Int(FieldArticleID)
	hasAID = hasAID && aid >= 0
	switch {
	case p.intent == classify.IntentEdit && hasAID:
		art.ID = aid
	case p.intent == classify.IntentEdit:
		a.log.Warn("edit_without_id", map[string]interface{}{
			"ticket": uint64(p.ticket),
			"aid":    form.Get(FieldArticleID),
		})
	case hasAID:
		art.ParentID = aid
	}

	for slot, data := range inlineAttachments(form) {
		if _, err := p.collector.Put(slot, data); err != nil {
			a.log.Warn("attachment_rejected", map[string]interface{}{
				"ticket": uint64(p.ticket),
				"slot":   slot,
				"error":  err.Error(),
			})
		}
	}

	p.decoded = true
}

// settleLocked emits the current submission if it has everything it needs.
func (a *Aggregator) settleLocked() *mirror.Record {
	switch st := a.state.(type) {
	case pendingEdit:
		if st.decoded {
			return a.finishLocked(st.PendingSubmission, st.article.ID)
		}
	case pendingNew:
		if st.decoded && st.committedID != nil {
			return a.finishLocked(st.PendingSubmission, *st.committedID)
		}
	}
	return nil
}

// finishLocked builds the record for p and returns the aggregator to idle.
func (a *Aggregator) finishLocked(p *PendingSubmission, id int64) *mirror.Record {
	art := p.article
	art.ID = id
	art.Attachments = p.collector.Drain()

	if mismatch := attachments.CheckCount(art.DeclaredAttachments, len(art.Attachments)); mismatch != nil {
		a.log.Warn("attachment_count_mismatch", map[string]interface{}{
			"ticket":   uint64(p.ticket),
			"declared": mismatch.Declared,
			"received": mismatch.Received,
		})
	}

	rec := mirror.NewArticleRecord(&art, a.now())
	a.state = idle{}

	a.log.Event("record_emitted", map[string]interface{}{
		"record_id":   rec.ID,
		"kind":        string(rec.Kind),
		"ticket":      uint64(p.ticket),
		"article_id":  art.ID,
		"edited":      art.Edited,
		"attachments": len(art.Attachments),
		"pending_ms":  a.now().Sub(p.startedAt).Milliseconds(),
	})
	return rec
}

// findSuperseded finds a pending submission with ticket that a later Begin
// replaced before it finished decoding.
func (a *Aggregator) findSuperseded(ticket Ticket) *PendingSubmission {
	current := pendingOf(a.state)
	if current == nil {
		return nil
	}
	for p := pendingOf(current.previous); p != nil; p = pendingOf(p.previous) {
		if p.ticket == ticket {
			return p
		}
	}
	return nil
}

// unlinkSuperseded removes a superseded submission from the restore chain.
func (a *Aggregator) unlinkSuperseded(ticket Ticket) bool {
	parent := pendingOf(a.state)
	for parent != nil {
		p := pendingOf(parent.previous)
		if p == nil {
			return false
		}
		if p.ticket == ticket {
			parent.previous = p.previous
			return true
		}
		parent = p
	}
	return false
}

func (a *Aggregator) emit(ctx context.Context, rec *mirror.Record) error {
	if rec == nil {
		return nil
	}
	if err := a.sink.Emit(ctx, rec); err != nil {
		a.log.Error("emit_failed", err, map[string]interface{}{
			"record_id": rec.ID,
			"kind":      string(rec.Kind),
		})
		return err
	}
	return nil
}

func ticketOf(p *PendingSubmission) uint64 {
	if p == nil {
		return 0
	}
	return uint64(p.ticket)
}

// ArticleIDFromURL extracts the "aid" query parameter of a page URL.
func ArticleIDFromURL(pageURL string) (int64, bool) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return 0, false
	}
	raw := formdata.ParseURLEncoded(u.RawQuery).Decoded(FieldArticleID)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
