package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/forumtap/internal/config"
	"github.com/dyluth/forumtap/internal/printer"
	"github.com/dyluth/forumtap/pkg/mirror"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "forumtap",
	Short: "forumtap - capture forum submissions from a browser session",
	Long: `forumtap observes the form submissions a browser sends to a forum,
decodes them and stores each finished article, comment or note as a record.

Submissions reach forumtap either from a browser host calling the local HTTP
boundary (forumtap serve) or from the browser extension publishing on the
Redis message bus.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to forumtap.yml (defaults apply when the file is missing)")
}

// loadConfig reads --config, falling back to the defaults when the file does
// not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"Config": configPath},
			[]string{"Create a starter configuration:\n  forumtap init --force"},
		)
	}
	return cfg, nil
}

// connectMirror opens the record store client for the configured instance
// and verifies Redis is reachable.
func connectMirror(ctx context.Context, cfg *config.Config) (*mirror.Client, error) {
	client, err := mirror.NewClientFromURL(cfg.Redis.URL, cfg.Instance)
	if err != nil {
		return nil, printer.Error(
			"invalid Redis URL",
			err.Error(),
			[]string{"Set redis.url in forumtap.yml or the REDIS_URL environment variable"},
		)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.Redis.URL),
			map[string]string{"Instance": cfg.Instance},
			[]string{
				"Start a local Redis:\n  docker run -d -p 6379:6379 redis:7-alpine",
				"Point forumtap at another server:\n  REDIS_URL=redis://host:6379 forumtap ...",
			},
		)
	}
	return client, nil
}
