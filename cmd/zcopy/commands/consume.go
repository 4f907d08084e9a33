//go:build unix

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/pkg/api"
	"github.com/marmos91/zerocopy/pkg/metrics"
	zcprom "github.com/marmos91/zerocopy/pkg/metrics/prometheus"
	"github.com/marmos91/zerocopy/pkg/recorder"
	"github.com/marmos91/zerocopy/pkg/zerocopy/consumer"
	"github.com/marmos91/zerocopy/pkg/zerocopy/memcon"
	"github.com/marmos91/zerocopy/pkg/zerocopy/producer"
	"github.com/marmos91/zerocopy/pkg/zerocopy/sidechannel"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var consumeVerbose bool

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run a consumer of an instance",
	Long: `Connect to the producer of a zero-copy instance and receive its slots.

By default the consumer waits for slot notifications. Set consumer.listen to
false to poll every consumer.poll_interval instead. With consumer.recorder
enabled every payload is archived to a file, badger or s3 sink.

Examples:
  # Consume with the default configuration
  zcopy consume

  # Log every received frame
  zcopy consume --verbose

  # Poll instead of listening
  ZEROCOPY_CONSUMER_LISTEN=false zcopy consume`,
	RunE: runConsume,
}

func init() {
	consumeCmd.Flags().BoolVarP(&consumeVerbose, "verbose", "v", false, "Log every received frame")
	rootCmd.AddCommand(consumeCmd)
}

func runConsume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownObservability, err := setupObservability(ctx, cfg, "zcopy-consume")
	if err != nil {
		return err
	}
	defer shutdownObservability()

	provider, err := cfg.Instance.Provider()
	if err != nil {
		return err
	}
	integrity, err := cfg.Instance.IntegrityLevel()
	if err != nil {
		return err
	}

	var (
		clientMetrics   metrics.ClientMetrics
		recorderMetrics metrics.RecorderMetrics
	)
	if metrics.IsEnabled() {
		clientMetrics = zcprom.NewClientMetrics(metrics.GetRegistry(), cfg.Instance.Name)
		recorderMetrics = zcprom.NewRecorderMetrics(metrics.GetRegistry())
	}

	var rec *recorder.Recorder
	if cfg.Consumer.Recorder.Enabled {
		sink, err := recorder.Open(ctx, cfg.Consumer.Recorder.SinkConfig())
		if err != nil {
			return fmt.Errorf("failed to open recorder: %w", err)
		}
		rec = recorder.New(sink, cfg.Instance.Name, recorderMetrics)
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("Recorder close error", logger.Err(err))
			}
		}()
		logger.Info("Recording payloads", logger.Sink(sink.Name()), "prefix", rec.Prefix())
	}

	channel, err := sidechannel.Dial(cfg.Instance.Socket)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Instance.Socket, err)
	}

	client, err := memcon.NewClient(memcon.Config{
		Channel:   channel,
		Provider:  provider,
		Instance:  cfg.Instance.Name,
		Integrity: integrity,
		Metrics:   clientMetrics,
	})
	if err != nil {
		_ = channel.Close()
		return err
	}

	c, err := consumer.New(client, consumer.Options{
		Listen:       cfg.Consumer.IsListening(),
		PollInterval: cfg.Consumer.PollInterval,
		Handler:      frameHandler(rec),
	})
	if err != nil {
		_ = channel.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := c.Run(gctx)
		// The producer went away; stop the API and the watcher too.
		stop()
		return err
	})
	startAuxiliary(gctx, g, cfg, api.ConsumerSource(cfg.Instance.Name, client, rec))

	logger.Info("Consumer running. Press Ctrl+C to stop.",
		logger.Instance(cfg.Instance.Name),
		logger.ClientID(client.ID()),
		logger.Socket(cfg.Instance.Socket),
		logger.Listening(cfg.Consumer.IsListening()))

	err = waitForShutdown(ctx, g, cfg.ShutdownTimeout)
	logger.Info("Consumer stopped", "received", c.Received())
	return err
}

// frameHandler logs frame latency when verbose and archives payloads when
// rec is not nil.
func frameHandler(rec *recorder.Recorder) consumer.Handler {
	var record consumer.Handler
	if rec != nil {
		record = consumer.RecordHandler(rec)
	}
	return func(ctx context.Context, content []byte) error {
		if consumeVerbose {
			if seq, sent, ok := producer.ParseFrame(content); ok {
				logger.Info("Frame received", "seq", seq, "latency", time.Since(sent).String(), "bytes", len(content))
			}
		}
		if record == nil {
			return nil
		}
		return record(ctx, content)
	}
}
