package mirror

import (
	"fmt"
	"time"

	"github.com/dyluth/forumtap/pkg/formdata"
	"github.com/google/uuid"
)

// SentinelID marks an article whose server-assigned id never arrived.
// Sinks treat it as "create new", never as an update.
const SentinelID int64 = -1

// MaxAttachments is the number of attachment slots a write form offers.
const MaxAttachments = 10

// Kind identifies which payload a Record carries.
type Kind string

const (
	// KindArticle is a written or edited forum article.
	KindArticle Kind = "article"

	// KindComment is a comment posted under an article.
	KindComment Kind = "comment"

	// KindNote is a private note sent to another member.
	KindNote Kind = "note"
)

// Validate checks if the Kind is a valid enum value.
func (k Kind) Validate() error {
	switch k {
	case KindArticle, KindComment, KindNote:
		return nil
	default:
		return fmt.Errorf("unknown record kind: %q", k)
	}
}

// Attachment is one binary upload belonging to an article.
// Attachments are never mutated after the collector creates them.
type Attachment struct {
	Slot         int    `json:"slot"`                // 1..10, 0 when the host did not report a slot
	Data         []byte `json:"data,omitempty"`      // Raw payload
	Size         int    `json:"size"`                // len(Data), kept when Data is stripped for events
	ReceivedAtMs int64  `json:"received_at_ms"`      // Arrival time in Unix milliseconds
	RecordID     string `json:"record_id,omitempty"` // Owning record, set at emission
}

// Article is a write or edit submission once it has been committed.
type Article struct {
	ID                  int64        `json:"id"` // Server-assigned id, SentinelID when unknown
	ParentID            int64        `json:"parent_id,omitempty"`
	BoardID             int64        `json:"board_id"`
	BoardTitle          string       `json:"board_title,omitempty"`
	Page                int64        `json:"page,omitempty"`
	Title               string       `json:"title"`
	Body                string       `json:"body"`
	Edited              bool         `json:"edited"`
	DeclaredAttachments int          `json:"declared_attachments"` // attach-count field, -1 when the form had none
	Attachments         []Attachment `json:"attachments"`
}

// HasID reports whether the server-assigned id is known.
func (a *Article) HasID() bool {
	return a.ID != SentinelID
}

// Comment is a comment submission. Body keeps its stored, percent-encoded form.
type Comment struct {
	ArticleID int64  `json:"article_id"`
	BoardID   int64  `json:"board_id"`
	Body      string `json:"body"`
}

// DisplayBody returns the decoded comment text.
func (c *Comment) DisplayBody() string {
	return formdata.EncodedValue(c.Body).Decode()
}

// Note is a private message. Body keeps its stored, percent-encoded form.
type Note struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

// DisplayBody returns the decoded note text.
func (n *Note) DisplayBody() string {
	return formdata.EncodedValue(n.Body).Decode()
}

// Record is a finished submission: exactly one of Article, Comment or Note is
// set and matches Kind. Records are emitted to the sinks exactly once.
type Record struct {
	ID          string   `json:"id"`            // UUID
	Kind        Kind     `json:"kind"`          // Which payload is set
	CreatedAtMs int64    `json:"created_at_ms"` // Emission time in Unix milliseconds
	Article     *Article `json:"article,omitempty"`
	Comment     *Comment `json:"comment,omitempty"`
	Note        *Note    `json:"note,omitempty"`
}

// NewArticleRecord wraps an article in a new record and stamps its
// attachments with the record id.
func NewArticleRecord(a *Article, now time.Time) *Record {
	r := newRecord(KindArticle, now)
	for i := range a.Attachments {
		a.Attachments[i].RecordID = r.ID
	}
	r.Article = a
	return r
}

// NewCommentRecord wraps a comment in a new record.
func NewCommentRecord(c *Comment, now time.Time) *Record {
	r := newRecord(KindComment, now)
	r.Comment = c
	return r
}

// NewNoteRecord wraps a note in a new record.
func NewNoteRecord(n *Note, now time.Time) *Record {
	r := newRecord(KindNote, now)
	r.Note = n
	return r
}

func newRecord(kind Kind, now time.Time) *Record {
	return &Record{
		ID:          uuid.New().String(),
		Kind:        kind,
		CreatedAtMs: now.UnixMilli(),
	}
}

// Validate checks that the record is well formed.
func (r *Record) Validate() error {
	if !isValidUUID(r.ID) {
		return fmt.Errorf("invalid record ID: not a valid UUID")
	}

	if err := r.Kind.Validate(); err != nil {
		return fmt.Errorf("invalid kind: %w", err)
	}

	set := 0
	for _, present := range []bool{r.Article != nil, r.Comment != nil, r.Note != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("record must carry exactly one payload, got %d", set)
	}

	switch r.Kind {
	case KindArticle:
		if r.Article == nil {
			return fmt.Errorf("article record has no article payload")
		}
		if r.Article.ID < SentinelID {
			return fmt.Errorf("invalid article id: %d", r.Article.ID)
		}
		if len(r.Article.Attachments) > MaxAttachments {
			return fmt.Errorf("article has %d attachments, at most %d allowed", len(r.Article.Attachments), MaxAttachments)
		}
	case KindComment:
		if r.Comment == nil {
			return fmt.Errorf("comment record has no comment payload")
		}
	case KindNote:
		if r.Note == nil {
			return fmt.Errorf("note record has no note payload")
		}
	}

	return nil
}

// Summary returns a copy of the record with attachment payloads stripped,
// small enough to publish on the event channel.
func (r *Record) Summary() *Record {
	out := *r
	if r.Article != nil {
		a := *r.Article
		a.Attachments = make([]Attachment, len(r.Article.Attachments))
		for i, att := range r.Article.Attachments {
			att.Data = nil
			a.Attachments[i] = att
		}
		out.Article = &a
	}
	return &out
}

// Title returns a one-line description used by listings.
func (r *Record) Title() string {
	switch {
	case r.Article != nil:
		return r.Article.Title
	case r.Comment != nil:
		return r.Comment.DisplayBody()
	case r.Note != nil:
		return r.Note.DisplayBody()
	default:
		return ""
	}
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
