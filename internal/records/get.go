package records

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dyluth/forumtap/internal/resolver"
	"github.com/dyluth/forumtap/pkg/mirror"
	"github.com/google/uuid"
)

// GetOptions controls GetRecord's output.
type GetOptions struct {
	// IncludeData keeps attachment bytes (base64) in the JSON output.
	IncludeData bool

	// AttachmentsDir, when set, receives one file per attachment.
	AttachmentsDir string
}

// ResolveRecordID accepts a record UUID, a server article id or a short
// record id prefix and returns the record id. A numeric reference is looked
// up as an article id first and as a prefix only when no article matches.
// Ambiguous prefixes return *resolver.AmbiguousError.
func ResolveRecordID(ctx context.Context, client *mirror.Client, ref string) (string, error) {
	if _, err := uuid.Parse(ref); err == nil {
		return ref, nil
	}

	if articleID, err := strconv.ParseInt(ref, 10, 64); err == nil && articleID >= 0 {
		id, err := client.RecordIDForArticle(ctx, articleID)
		if err == nil {
			return id, nil
		}
		if !mirror.IsNotFound(err) {
			return "", fmt.Errorf("failed to look up article %d: %w", articleID, err)
		}
		if len(ref) < resolver.MinShortIDLength {
			return "", &RecordNotFoundError{Ref: ref}
		}
	}

	id, err := resolver.ResolveRecordID(ctx, client, ref)
	switch {
	case err == nil:
		return id, nil
	case resolver.IsNotFoundError(err):
		return "", &RecordNotFoundError{Ref: ref}
	case resolver.IsAmbiguousError(err):
		return "", err
	default:
		return "", fmt.Errorf("invalid record reference %q: %w", ref, err)
	}
}

// GetRecord fetches one record by UUID, article id or short id and writes it
// as pretty-printed JSON.
func GetRecord(ctx context.Context, client *mirror.Client, ref string, opts GetOptions, w io.Writer) error {
	id, err := ResolveRecordID(ctx, client, ref)
	if err != nil {
		return err
	}

	r, err := client.GetRecord(ctx, id)
	if err != nil {
		if mirror.IsNotFound(err) {
			return &RecordNotFoundError{Ref: ref}
		}
		return fmt.Errorf("failed to fetch record: %w", err)
	}

	if opts.AttachmentsDir != "" {
		if _, err := ExportAttachments(r, opts.AttachmentsDir); err != nil {
			return err
		}
	}

	if !opts.IncludeData {
		r = r.Summary()
	}
	if err := FormatSingleJSON(w, r); err != nil {
		return fmt.Errorf("failed to format record: %w", err)
	}
	return nil
}

// ExportAttachments writes each attachment of an article record to dir as
// attach<slot>.bin (extra<position>.bin when it has no slot) and returns the
// written paths.
func ExportAttachments(r *mirror.Record, dir string) ([]string, error) {
	if r.Article == nil || len(r.Article.Attachments) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	paths := make([]string, 0, len(r.Article.Attachments))
	for i, att := range r.Article.Attachments {
		name := fmt.Sprintf("attach%d.bin", att.Slot)
		if att.Slot == 0 {
			name = fmt.Sprintf("extra%d.bin", i)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, att.Data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// RecordNotFoundError is returned when a reference resolves to nothing.
type RecordNotFoundError struct {
	Ref string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("record '%s' not found", e.Ref)
}

// IsNotFound returns true if the error is a RecordNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*RecordNotFoundError)
	return ok
}
