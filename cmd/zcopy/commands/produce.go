//go:build unix

package commands

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/pkg/api"
	"github.com/marmos91/zerocopy/pkg/metrics"
	zcprom "github.com/marmos91/zerocopy/pkg/metrics/prometheus"
	"github.com/marmos91/zerocopy/pkg/zerocopy/producer"
	"github.com/marmos91/zerocopy/pkg/zerocopy/sidechannel"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var produceCmd = &cobra.Command{
	Use:   "produce",
	Short: "Run the producer of an instance",
	Long: `Run the producer of a zero-copy instance.

The producer allocates the slot memory, listens on the instance socket and
publishes a generated payload to every connected consumer once per
producer.send_interval. Each payload starts with a sequence number and a
send timestamp.

Examples:
  # Produce with the default configuration
  zcopy produce

  # Produce with a custom config file
  zcopy produce --config /etc/zcopy/camera.yaml

  # Override settings with environment variables
  ZEROCOPY_PRODUCER_SEND_INTERVAL=10ms zcopy produce`,
	RunE: runProduce,
}

func init() {
	rootCmd.AddCommand(produceCmd)
}

func runProduce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownObservability, err := setupObservability(ctx, cfg, "zcopy-produce")
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

	var producerMetrics metrics.ProducerMetrics
	if metrics.IsEnabled() {
		producerMetrics = zcprom.NewProducerMetrics(metrics.GetRegistry(), cfg.Instance.Name)
	}

	srv, err := producer.New(producer.Config{
		Instance:  cfg.Instance.Name,
		Slots:     cfg.Instance.SlotConfig(),
		Provider:  provider,
		Integrity: integrity,
		Metrics:   producerMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	defer func() {
		if err := srv.Shutdown(); err != nil {
			logger.Error("Producer shutdown error", logger.Err(err))
		}
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.Instance.Socket), 0o700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	listener, err := sidechannel.Listen(cfg.Instance.Socket)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Instance.Socket, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, listener) })
	g.Go(func() error {
		return srv.Produce(gctx, cfg.Producer.SendInterval, producer.FramePayload(cfg.Producer.PayloadSize.Int()))
	})
	g.Go(func() error { return srv.ReclaimEvery(gctx, cfg.Producer.ReclaimInterval) })
	startAuxiliary(gctx, g, cfg, api.ProducerSource(cfg.Instance.Name, srv))

	logger.Info("Producer running. Press Ctrl+C to stop.",
		logger.Instance(cfg.Instance.Name),
		logger.Socket(cfg.Instance.Socket),
		logger.MemoryBackend(cfg.Instance.MemoryBackend),
		"send_interval", cfg.Producer.SendInterval.String(),
		"payload_size", cfg.Producer.PayloadSize.String())

	if err := waitForShutdown(ctx, g, cfg.ShutdownTimeout); err != nil {
		return err
	}
	logger.Info("Producer stopped")
	return nil
}
