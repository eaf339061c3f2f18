package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/forumtap/internal/filter"
	"github.com/dyluth/forumtap/internal/printer"
	"github.com/dyluth/forumtap/internal/records"
	"github.com/dyluth/forumtap/internal/watch"
	"github.com/dyluth/forumtap/pkg/mirror"
	"github.com/spf13/cobra"
)

var (
	watchOutputFormat string
	watchKind         string
	watchBoard        int64
	watchTitle        string
	watchArticle      int64
	watchTimeout      time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow records as they are saved",
	Long: `Stream records saved by a running 'forumtap serve' for the instance.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

With --article, wait instead for the record of one server article id to be
mirrored, print it and exit.

Examples:
  # Follow everything
  forumtap watch

  # Only articles on board 1765, as JSON
  forumtap watch --kind=article --board=1765 -o json > articles.jsonl

  # Wait up to a minute for article 123456
  forumtap watch --article 123456 --timeout 1m`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchKind, "kind", "", "Filter by kind: article, comment or note")
	watchCmd.Flags().Int64Var(&watchBoard, "board", 0, "Filter by board id")
	watchCmd.Flags().StringVar(&watchTitle, "title", "", "Filter by title glob pattern")
	watchCmd.Flags().Int64Var(&watchArticle, "article", 0, "Wait for the record of this server article id")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 30*time.Second, "How long --article waits")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var outputFormat watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		outputFormat = watch.OutputFormatDefault
	case "json":
		outputFormat = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	criteria := filter.Criteria{
		Kind:      mirror.Kind(watchKind),
		BoardID:   watchBoard,
		TitleGlob: watchTitle,
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := connectMirror(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if watchArticle > 0 {
		r, err := watch.PollForArticle(ctx, client, watchArticle, watchTimeout)
		if err != nil {
			return printer.Error(
				fmt.Sprintf("article %d was not mirrored", watchArticle),
				err.Error(),
				[]string{"Check that 'forumtap serve' is running for this instance"},
			)
		}
		return records.FormatSingleJSON(os.Stdout, r.Summary())
	}

	return watch.StreamRecords(ctx, client, outputFormat, criteria, os.Stdout)
}
