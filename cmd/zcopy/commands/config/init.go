package config

import (
	"fmt"

	"github.com/marmos91/zerocopy/internal/cli/prompt"
	"github.com/marmos91/zerocopy/pkg/config"
	"github.com/spf13/cobra"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Create a zcopy configuration file.

Without --interactive the file holds the default configuration. With
--interactive the instance layout and the recorder are asked for first.

Examples:
  # Create default config at ~/.config/zcopy/config.yaml
  zcopy config init

  # Create config at a custom location
  zcopy config init --config /etc/zcopy/config.yaml

  # Answer a few questions first
  zcopy config init --interactive

  # Overwrite an existing file
  zcopy config init --force`,
	RunE: runConfigInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for the main settings")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	cfg := config.GetDefaultConfig()
	if initInteractive {
		var err error
		cfg, err = promptConfig()
		if err != nil {
			if prompt.IsAborted(err) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			return err
		}
	}

	if err := config.WriteConfig(configPath, cfg, initForce); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Review the instance section; producer and consumers must share it")
	_, _ = fmt.Fprintln(out, "  2. Start the producer: zcopy produce")
	_, _ = fmt.Fprintln(out, "  3. Start a consumer:   zcopy consume")
	return nil
}

// promptConfig asks for the instance layout and the recorder. Everything
// else keeps its default.
func promptConfig() (*config.Config, error) {
	cfg := &config.Config{}

	name, err := prompt.Input("Instance name", "default")
	if err != nil {
		return nil, err
	}
	cfg.Instance.Name = name

	slots, err := prompt.InputUint("Number of slots", 16, 1, 65536)
	if err != nil {
		return nil, err
	}
	cfg.Instance.Slots = uint32(slots)

	cfg.Instance.SlotSize, err = prompt.InputSize("Slot size", config.GetDefaultConfig().Instance.SlotSize)
	if err != nil {
		return nil, err
	}

	cfg.Instance.MemoryBackend, err = prompt.Select("Memory backend", []prompt.SelectOption{
		{Label: "memfd", Value: "memfd", Description: "Anonymous shared memory passed over the socket (Linux)"},
		{Label: "heap", Value: "heap", Description: "Process-local memory, producer and consumer in one process"},
	})
	if err != nil {
		return nil, err
	}

	cfg.Instance.Integrity, err = prompt.SelectValues("Integrity level", "QM", "ASIL-A", "ASIL-B", "ASIL-C", "ASIL-D")
	if err != nil {
		return nil, err
	}

	record, err := prompt.Confirm("Record received payloads", false)
	if err != nil {
		return nil, err
	}
	if record {
		if err := promptRecorder(&cfg.Consumer.Recorder); err != nil {
			return nil, err
		}
	}

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func promptRecorder(rc *config.RecorderConfig) error {
	rc.Enabled = true

	var err error
	rc.Type, err = prompt.Select("Recorder sink", []prompt.SelectOption{
		{Label: "file", Value: "file", Description: "One file per payload in a directory"},
		{Label: "badger", Value: "badger", Description: "Embedded key-value store"},
		{Label: "s3", Value: "s3", Description: "AWS S3 or S3-compatible bucket"},
	})
	if err != nil {
		return err
	}

	switch rc.Type {
	case "file", "badger":
		rc.Path, err = prompt.InputRequired("Recorder directory")
		return err
	case "s3":
		if rc.S3.Bucket, err = prompt.InputRequired("S3 bucket name"); err != nil {
			return err
		}
		if rc.S3.Region, err = prompt.Input("AWS region", "us-east-1"); err != nil {
			return err
		}
		if rc.S3.Endpoint, err = prompt.InputOptional("Custom endpoint (for S3-compatible stores)"); err != nil {
			return err
		}
		rc.S3.ForcePathStyle = rc.S3.Endpoint != ""
		if rc.S3.AccessKeyID, err = prompt.InputOptional("Access key ID (leave empty for env vars)"); err != nil {
			return err
		}
		if rc.S3.AccessKeyID != "" {
			rc.S3.SecretAccessKey, err = prompt.Secret("Secret access key")
		}
		return err
	}
	return nil
}
