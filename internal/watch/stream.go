// Package watch follows the records a running forumtap instance saves.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dyluth/forumtap/internal/filter"
	"github.com/dyluth/forumtap/pkg/mirror"
)

// OutputFormat specifies how streamed records are written.
type OutputFormat string

const (
	// OutputFormatDefault is one human-readable line per record
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON is line-delimited JSON
	OutputFormatJSON OutputFormat = "json"
)

type formatter interface {
	FormatRecord(r *mirror.Record) error
}

// StreamRecords writes every record saved on the instance until ctx is
// cancelled or the subscription ends. Undecodable events are reported on
// stderr and skipped.
func StreamRecords(ctx context.Context, client *mirror.Client, format OutputFormat, criteria filter.Criteria, w io.Writer) error {
	var f formatter
	switch format {
	case OutputFormatDefault:
		f = &defaultFormatter{writer: w}
	case OutputFormatJSON:
		f = &jsonFormatter{encoder: json.NewEncoder(w)}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	sub, err := client.SubscribeRecordEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to record events: %w", err)
	}
	defer sub.Close()

	if format == OutputFormatDefault {
		fmt.Fprintf(w, "Watching records for instance '%s' (Ctrl+C to stop)...\n", client.InstanceName())
	}

	events := sub.Events()
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case r, ok := <-events:
			if !ok {
				return nil
			}
			if !criteria.Matches(r) {
				continue
			}
			if err := f.FormatRecord(r); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
		}
	}
}

type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) FormatRecord(r *mirror.Record) error {
	ts := time.UnixMilli(r.CreatedAtMs).Format("15:04:05")

	var line string
	switch {
	case r.Article != nil:
		a := r.Article
		verb := "📝 Article written"
		if a.Edited {
			verb = "✏️  Article edited"
		}
		id := "new"
		if a.HasID() {
			id = strconv.FormatInt(a.ID, 10)
		}
		line = fmt.Sprintf("%s: board=%d, id=%s, files=%d, title=%q", verb, a.BoardID, id, len(a.Attachments), a.Title)
	case r.Comment != nil:
		line = fmt.Sprintf("💬 Comment posted: article=%d, board=%d, body=%q", r.Comment.ArticleID, r.Comment.BoardID, r.Comment.DisplayBody())
	case r.Note != nil:
		line = fmt.Sprintf("✉️  Note sent: to=%s, body=%q", r.Note.Recipient, r.Note.DisplayBody())
	default:
		return nil
	}

	_, err := fmt.Fprintf(f.writer, "[%s] %s\n", ts, line)
	return err
}

type jsonFormatter struct {
	encoder *json.Encoder
}

func (f *jsonFormatter) FormatRecord(r *mirror.Record) error {
	return f.encoder.Encode(r)
}
