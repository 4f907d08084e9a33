package config

import (
	"github.com/marmos91/zerocopy/internal/cli/output"
	"github.com/marmos91/zerocopy/pkg/config"
	"github.com/spf13/cobra"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration as producers and consumers see it: the file
with defaults filled in and ZEROCOPY_* environment overrides applied.

Examples:
  zcopy config show
  ZEROCOPY_INSTANCE_SLOTS=64 zcopy config show -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.MustLoad(configPath)
		if err != nil {
			return err
		}
		format, err := output.ParseFormat(showOutput)
		if err != nil {
			return err
		}
		return output.Print(cmd.OutOrStdout(), format, cfg, nil)
	},
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}
