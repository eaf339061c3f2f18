// Package records implements the read side of the Redis record store for the
// `forumtap records` commands.
package records

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dyluth/forumtap/internal/filter"
	"github.com/dyluth/forumtap/pkg/mirror"
)

// OutputFormat specifies how to format the record list output.
type OutputFormat string

const (
	// OutputFormatDefault is a table with truncated titles
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete records as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"

	// OutputFormatJSON outputs a single JSON array
	OutputFormatJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputFormatDefault, OutputFormatJSONL, OutputFormatJSON:
		return f, nil
	case "":
		return OutputFormatDefault, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (must be 'default', 'jsonl' or 'json')", s)
	}
}

// ListRecords reads the instance's record index (oldest first), applies the
// filters and writes the result. Records that fail to load are skipped with
// a warning on stderr. Attachment bytes are never included.
func ListRecords(ctx context.Context, client *mirror.Client, format OutputFormat, filters *filter.Criteria, w io.Writer) error {
	var since int64
	if filters != nil {
		since = filters.SinceTimestampMs
	}

	ids, err := client.ListRecordIDs(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	var out []*mirror.Record
	for _, id := range ids {
		r, err := client.GetRecord(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Skipping unreadable record: id=%s (error: %v)\n", id, err)
			continue
		}
		if filters != nil && !filters.Matches(r) {
			continue
		}
		out = append(out, r.Summary())
	}

	switch format {
	case OutputFormatDefault:
		FormatTable(w, out, client.InstanceName(), time.Now())
	case OutputFormatJSONL:
		if err := FormatJSONL(w, out); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	case OutputFormatJSON:
		if err := FormatJSON(w, out); err != nil {
			return fmt.Errorf("failed to format JSON output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	return nil
}
