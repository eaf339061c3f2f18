package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/dyluth/forumtap/internal/filter"
	"github.com/dyluth/forumtap/internal/printer"
	"github.com/dyluth/forumtap/internal/records"
	"github.com/dyluth/forumtap/internal/resolver"
	"github.com/dyluth/forumtap/internal/timespec"
	"github.com/dyluth/forumtap/pkg/mirror"
	"github.com/spf13/cobra"
)

var (
	recordsOutputFormat   string
	recordsSince          string
	recordsUntil          string
	recordsKind           string
	recordsBoard          int64
	recordsTitle          string
	recordsIncludeData    bool
	recordsAttachmentsDir string
)

var recordsCmd = &cobra.Command{
	Use:   "records [RECORD_ID | SHORT_ID | ARTICLE_ID]",
	Short: "Inspect captured records with filtering",
	Long: `Inspect captured records in list or get mode.

List Mode (no argument):
  Displays records matching filters, oldest first.

Get Mode (with a record UUID, a short id prefix or a server article id):
  Displays one record as pretty-printed JSON. Attachment bytes are left out
  unless --data is set; --attachments-dir writes them to files.

Output Formats (list mode only):
  default - Human-readable table
  jsonl   - Line-delimited JSON, one record per line
  json    - A single JSON array

Examples:
  # List everything captured in the last two hours
  forumtap records --since=2h

  # Comments on board 1765 as JSONL
  forumtap records --kind=comment --board=1765 -o jsonl

  # Articles whose title starts with "Weekly"
  forumtap records --kind=article --title='Weekly*'

  # Show the record mirrored for article 123456 and save its attachments
  forumtap records 123456 --attachments-dir ./att`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecords,
}

func init() {
	recordsCmd.Flags().StringVarP(&recordsOutputFormat, "output", "o", "default", "Output format: default, jsonl or json (ignored in get mode)")

	recordsCmd.Flags().StringVar(&recordsSince, "since", "", "Show records after time (duration, date or RFC3339)")
	recordsCmd.Flags().StringVar(&recordsUntil, "until", "", "Show records before time (duration, date or RFC3339)")

	recordsCmd.Flags().StringVar(&recordsKind, "kind", "", "Filter by kind: article, comment or note")
	recordsCmd.Flags().Int64Var(&recordsBoard, "board", 0, "Filter by board id")
	recordsCmd.Flags().StringVar(&recordsTitle, "title", "", "Filter by title glob pattern (e.g., 'Weekly*')")

	recordsCmd.Flags().BoolVar(&recordsIncludeData, "data", false, "Include attachment bytes (get mode)")
	recordsCmd.Flags().StringVar(&recordsAttachmentsDir, "attachments-dir", "", "Write attachments to this directory (get mode)")

	rootCmd.AddCommand(recordsCmd)
}

func runRecords(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	isGetMode := len(args) > 0

	var outputFormat records.OutputFormat
	if !isGetMode {
		var err error
		if outputFormat, err = records.ParseOutputFormat(recordsOutputFormat); err != nil {
			return printer.Error(
				"invalid output format",
				fmt.Sprintf("Unknown format: %s", recordsOutputFormat),
				[]string{"Valid formats: default, jsonl, json"},
			)
		}
	}

	criteria := &filter.Criteria{
		Kind:      mirror.Kind(recordsKind),
		BoardID:   recordsBoard,
		TitleGlob: recordsTitle,
	}
	if err := criteria.Validate(); err != nil {
		return printer.Error(
			"invalid filter",
			err.Error(),
			[]string{"Valid kinds: article, comment, note", "Title patterns use shell glob syntax"},
		)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := connectMirror(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if isGetMode {
		ref := args[0]
		opts := records.GetOptions{IncludeData: recordsIncludeData, AttachmentsDir: recordsAttachmentsDir}
		if err := records.GetRecord(ctx, client, ref, opts, os.Stdout); err != nil {
			if records.IsNotFound(err) {
				return printer.Error(
					fmt.Sprintf("record '%s' not found", ref),
					fmt.Sprintf("Nothing is stored under that id for instance '%s'.", cfg.Instance),
					[]string{
						"List all records:\n  forumtap records",
						"Articles saved before their id arrived are only reachable by record id",
					},
				)
			}
			if resolver.IsAmbiguousError(err) {
				fmt.Fprintln(os.Stderr, resolver.FormatAmbiguousError(err.(*resolver.AmbiguousError)))
				return fmt.Errorf("ambiguous short ID")
			}
			return fmt.Errorf("failed to get record: %w", err)
		}
		if recordsAttachmentsDir != "" {
			printer.Success("Attachments written to %s\n", recordsAttachmentsDir)
		}
		return nil
	}

	sinceMS, untilMS, err := timespec.ParseRange(recordsSince, recordsUntil)
	if err != nil {
		return printer.Error(
			"invalid time filter",
			err.Error(),
			[]string{"Use a duration like '1h30m' or '3d', a date like '2025-10-29' or RFC3339 like '2025-10-29T13:00:00Z'"},
		)
	}

	criteria.SinceTimestampMs = sinceMS
	criteria.UntilTimestampMs = untilMS
	if err := records.ListRecords(ctx, client, outputFormat, criteria, os.Stdout); err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	return nil
}
