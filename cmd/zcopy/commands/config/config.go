// Package config holds the "zcopy config" subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd groups the configuration file subcommands.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Create, check and inspect configuration files",
	Long: `Manage the zcopy configuration file. Producer and consumers of one
instance read the same instance section, so share one file or keep the
sections identical.`,
}

func init() {
	Cmd.AddCommand(initCmd, editCmd, validateCmd, showCmd, schemaCmd)
}
