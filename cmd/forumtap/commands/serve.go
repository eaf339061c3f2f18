package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/forumtap/internal/aggregator"
	"github.com/dyluth/forumtap/internal/classify"
	"github.com/dyluth/forumtap/internal/config"
	"github.com/dyluth/forumtap/internal/dispatch"
	"github.com/dyluth/forumtap/internal/eventlog"
	"github.com/dyluth/forumtap/internal/extension"
	"github.com/dyluth/forumtap/internal/host"
	"github.com/dyluth/forumtap/internal/printer"
	"github.com/dyluth/forumtap/internal/sink"
	"github.com/dyluth/forumtap/pkg/mirror"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveNoExtension bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Capture submissions and store them",
	Long: `Run the capture pipeline until interrupted.

Starts the browser-host HTTP boundary on host.address and consumes the
extension message bus for the instance. Every finished submission is saved
to the configured sinks; storage failures are logged and shown as alerts.

On shutdown, in-flight streamed bodies are drained and a pending article is
flushed before the sinks are closed.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoExtension, "no-extension", false, "Do not consume the extension message bus")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := eventlog.New("forumtap", cfg.Instance)
	alerter := printer.NewTerminalAlerter(os.Stderr)

	client, err := connectMirror(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	sinks, err := openSinks(ctx, cfg, client)
	if err != nil {
		return err
	}
	fanout := sink.NewFanout(sinks...)

	queue := dispatch.New(fanout, dispatch.Options{
		Buffer:      cfg.Dispatch.Buffer,
		EmitTimeout: cfg.Dispatch.Timeout(),
		Logger:      logger.With("dispatch"),
		Alerter:     alerter,
	})

	agg := aggregator.New(queue, aggregator.WithLogger(logger.With("aggregator")))

	interceptor := host.NewInterceptor(agg, host.Options{
		Classifier:      classify.New(cfg.Endpoints()),
		Decoder:         cfg.FormDecoder(),
		Logger:          logger.With("host"),
		Alerter:         alerter,
		CancelMalformed: cfg.Host.CancelMalformed,
	})

	server := host.NewServer(cfg.Host.Address, interceptor, client, logger.With("http"))
	if err := server.Start(); err != nil {
		queue.Close()
		return printer.ErrorWithContext(
			"failed to start host server",
			err.Error(),
			map[string]string{"Address": cfg.Host.Address},
			[]string{"Choose a free address with host.address in forumtap.yml"},
		)
	}

	printer.Success("forumtap serving instance '%s'\n", cfg.Instance)
	printer.Info("  Host boundary: http://%s\n", server.Addr())
	for _, s := range fanout.Sinks() {
		printer.Info("  Sink: %s\n", s.Name())
	}

	errCh := make(chan error, 1)
	if !serveNoExtension {
		consumer := extension.NewConsumer(client, agg, logger.With("extension"))
		go func() {
			errCh <- consumer.Run(ctx)
		}()
		printer.Info("  Extension bus: %s\n", mirror.MessagesChannel(cfg.Instance))
	}

	var runErr error
	select {
	case <-ctx.Done():
		printer.Step("Shutting down...\n")
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error("consumer_stopped", runErr, nil)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown_failed", err, map[string]interface{}{"component": "http"})
	}

	interceptor.Wait()
	if err := agg.Flush(shutdownCtx); err != nil {
		logger.Error("flush_failed", err, nil)
	}
	if err := queue.Close(); err != nil {
		logger.Error("close_failed", err, map[string]interface{}{"component": "sinks"})
	}

	printer.Success("Stopped: %d records saved, %d storage failures\n", queue.Delivered(), queue.Failed())

	if runErr != nil {
		return fmt.Errorf("extension consumer failed: %w", runErr)
	}
	return nil
}

// openSinks opens every configured sink. On failure the sinks opened so far
// are closed again.
func openSinks(ctx context.Context, cfg *config.Config, client *mirror.Client) (opened []sink.Sink, err error) {
	defer func() {
		if err != nil {
			for _, s := range opened {
				s.Close()
			}
			opened = nil
		}
	}()

	sc := cfg.Sinks
	if cfg.RedisSinkEnabled() {
		opened = append(opened, sink.NewRedisSink(client))
	}

	// With a queue, the worker owns its database.
	workerDB := ""
	if sc.Queue != nil {
		workerDB = workerTargetName(cfg)
	}

	if sc.SQLite != nil && workerDB != "sqlite" {
		s, err := sink.OpenSQLite(sc.SQLite.Path)
		if err != nil {
			return opened, sinkError("sqlite", err)
		}
		opened = append(opened, s)
	}

	if sc.Postgres != nil && workerDB != "postgres" {
		s, err := sink.OpenPostgres(ctx, sc.Postgres.DSN)
		if err != nil {
			return opened, sinkError("postgres", err)
		}
		opened = append(opened, s)
	}

	if sc.Blobs != nil {
		s, err := sink.NewBlobSink(sink.BlobConfig{
			Endpoint:  sc.Blobs.Endpoint,
			AccessKey: sc.Blobs.AccessKey,
			SecretKey: sc.Blobs.SecretKey,
			Bucket:    sc.Blobs.Bucket,
			Region:    sc.Blobs.Region,
			UseSSL:    sc.Blobs.UseSSL,
		})
		if err != nil {
			return opened, sinkError("blobs", err)
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return opened, sinkError("blobs", err)
		}
		opened = append(opened, s)
	}

	if sc.Queue != nil {
		s, err := sink.NewQueueSink(cfg.Redis.URL, sc.Queue.MaxRetries)
		if err != nil {
			return opened, sinkError("queue", err)
		}
		opened = append(opened, s)
	}

	return opened, nil
}

func sinkError(name string, err error) error {
	return printer.ErrorWithContext(
		fmt.Sprintf("failed to open %s sink", name),
		err.Error(),
		map[string]string{"Sink": name},
		[]string{fmt.Sprintf("Check sinks.%s in forumtap.yml", name)},
	)
}
