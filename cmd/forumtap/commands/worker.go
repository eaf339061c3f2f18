package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dyluth/forumtap/internal/config"
	"github.com/dyluth/forumtap/internal/eventlog"
	"github.com/dyluth/forumtap/internal/printer"
	"github.com/dyluth/forumtap/internal/sink"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Drain the record queue into a database",
	Long: `Process records handed over by the queue sink (sinks.queue) and write
them to the configured database: Postgres when sinks.postgres is set,
otherwise SQLite.

Failed writes are retried by the queue up to sinks.queue.max_retries times.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	target, err := openWorkerTarget(ctx, cfg)
	if err != nil {
		return err
	}
	defer target.Close()

	redisOpt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		return printer.Error(
			"invalid Redis URL",
			err.Error(),
			[]string{"Set redis.url in forumtap.yml or the REDIS_URL environment variable"},
		)
	}

	logger := eventlog.New("worker", cfg.Instance)
	processor := sink.NewProcessor(target, logger)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
	})
	if err := server.Start(processor.Handler()); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	printer.Success("Worker draining the record queue into %s (concurrency %d)\n", target.Name(), cfg.Worker.Concurrency)

	<-ctx.Done()
	printer.Step("Shutting down...\n")
	server.Shutdown()
	return nil
}

// workerTargetName is the database the worker writes into: postgres when
// configured, otherwise sqlite. Empty when neither is set.
func workerTargetName(cfg *config.Config) string {
	switch {
	case cfg.Sinks.Postgres != nil:
		return "postgres"
	case cfg.Sinks.SQLite != nil:
		return "sqlite"
	default:
		return ""
	}
}

// openWorkerTarget opens the database the worker writes into.
func openWorkerTarget(ctx context.Context, cfg *config.Config) (sink.Sink, error) {
	switch workerTargetName(cfg) {
	case "postgres":
		s, err := sink.OpenPostgres(ctx, cfg.Sinks.Postgres.DSN)
		if err != nil {
			return nil, sinkError("postgres", err)
		}
		return s, nil
	case "sqlite":
		s, err := sink.OpenSQLite(cfg.Sinks.SQLite.Path)
		if err != nil {
			return nil, sinkError("sqlite", err)
		}
		return s, nil
	default:
		return nil, printer.Error(
			"no database configured",
			"The worker writes queued records into Postgres or SQLite.",
			[]string{"Add sinks.postgres.dsn or sinks.sqlite.path to forumtap.yml"},
		)
	}
}
