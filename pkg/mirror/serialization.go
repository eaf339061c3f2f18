package mirror

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting records to and from Redis hashes.
//
// Scalar fields get their own hash field so they stay queryable; the kind
// specific payload is JSON-encoded into "payload". Attachment bytes never go
// into the record hash, they live under RecordAttachmentsKey.

// RecordToHash converts a Record to Redis hash format.
func RecordToHash(r *Record) (map[string]interface{}, error) {
	var payload interface{}
	articleID := ""
	switch r.Kind {
	case KindArticle:
		summary := r.Summary()
		payload = summary.Article
		if r.Article.HasID() {
			articleID = strconv.FormatInt(r.Article.ID, 10)
		}
	case KindComment:
		payload = r.Comment
	case KindNote:
		payload = r.Note
	default:
		return nil, fmt.Errorf("unknown record kind: %q", r.Kind)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", r.Kind, err)
	}

	hash := map[string]interface{}{
		"id":            r.ID,
		"kind":          string(r.Kind),
		"created_at_ms": r.CreatedAtMs,
		"article_id":    articleID,
		"payload":       string(payloadJSON),
	}

	return hash, nil
}

// HashToRecord converts a Redis hash back to a Record. Article attachments
// come back with metadata only; the client fills in their bytes.
func HashToRecord(hash map[string]string) (*Record, error) {
	createdAtMs, err := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at_ms field: %w", err)
	}

	r := &Record{
		ID:          hash["id"],
		Kind:        Kind(hash["kind"]),
		CreatedAtMs: createdAtMs,
	}

	payload := []byte(hash["payload"])
	switch r.Kind {
	case KindArticle:
		r.Article = &Article{}
		if err := json.Unmarshal(payload, r.Article); err != nil {
			return nil, fmt.Errorf("failed to unmarshal article payload: %w", err)
		}
		if r.Article.Attachments == nil {
			r.Article.Attachments = []Attachment{}
		}
	case KindComment:
		r.Comment = &Comment{}
		if err := json.Unmarshal(payload, r.Comment); err != nil {
			return nil, fmt.Errorf("failed to unmarshal comment payload: %w", err)
		}
	case KindNote:
		r.Note = &Note{}
		if err := json.Unmarshal(payload, r.Note); err != nil {
			return nil, fmt.Errorf("failed to unmarshal note payload: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown record kind: %q", r.Kind)
	}

	return r, nil
}
