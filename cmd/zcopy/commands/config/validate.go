package config

import (
	"fmt"

	"github.com/marmos91/zerocopy/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the zcopy configuration file.

Checks for syntax errors, missing required fields, invalid values and a slot
layout the producer cannot allocate.

Examples:
  # Validate default config
  zcopy config validate

  # Validate specific config file
  zcopy config validate --config /etc/zcopy/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := configWarnings(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	slots := cfg.Instance.SlotConfig()
	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Instance:        %s\n", cfg.Instance.Name)
	_, _ = fmt.Fprintf(out, "  Socket:          %s\n", cfg.Instance.Socket)
	_, _ = fmt.Fprintf(out, "  Slots:           %d x %s\n", cfg.Instance.Slots, cfg.Instance.SlotSize)
	_, _ = fmt.Fprintf(out, "  Slot memory:     %d bytes\n", slots.RequiredSize())
	_, _ = fmt.Fprintf(out, "  Memory backend:  %s (%s)\n", cfg.Instance.MemoryBackend, cfg.Instance.Integrity)
	_, _ = fmt.Fprintf(out, "  API port:        %d\n", cfg.API.Port)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)

	return nil
}

// configWarnings reports valid settings that are likely mistakes.
func configWarnings(cfg *config.Config) []string {
	var warnings []string

	if cfg.Producer.PayloadSize < cfg.Instance.SlotSize/4 {
		warnings = append(warnings, fmt.Sprintf("producer.payload_size %s uses less than a quarter of instance.slot_size %s",
			cfg.Producer.PayloadSize, cfg.Instance.SlotSize))
	}
	if cfg.Producer.ReclaimInterval > 10*cfg.Producer.SendInterval {
		warnings = append(warnings, "producer.reclaim_interval is much longer than producer.send_interval; sends may find no free slot")
	}
	if cfg.Consumer.Recorder.Enabled && cfg.Consumer.Recorder.Type == "memory" {
		warnings = append(warnings, "consumer.recorder.type 'memory' discards recordings on exit")
	}
	if !cfg.API.IsEnabled() && cfg.Metrics.Enabled {
		warnings = append(warnings, "metrics are enabled but the API server serving /metrics is disabled")
	}
	return warnings
}
