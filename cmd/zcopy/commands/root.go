// Package commands implements the zcopy CLI.
package commands

import (
	"github.com/marmos91/zerocopy/cmd/zcopy/commands/config"
	"github.com/spf13/cobra"
)

// Build information, set by main.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// cfgFile is the --config flag shared by every command.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "zcopy",
	Short: "Zero-copy shared memory transport",
	Long: `zcopy moves payloads from one producer to many consumers through shared
memory slots. Only slot indices cross the process boundary: the producer and
its consumers coordinate over a Unix socket side channel.

Use "zcopy [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/zcopy/config.yaml)")
	rootCmd.AddCommand(versionCmd, statusCmd, config.Cmd)
}

// SetBuildInfo records the version reported by "zcopy version" and by
// telemetry.
func SetBuildInfo(version, commit, date string) {
	Version, Commit, Date = version, commit, date
}

// Execute runs the command selected by os.Args.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command, for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}
