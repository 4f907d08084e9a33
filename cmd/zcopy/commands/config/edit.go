package config

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/marmos91/zerocopy/pkg/config"
	"github.com/spf13/cobra"
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open configuration in editor",
	Long: `Open the configuration file in $VISUAL or $EDITOR (default vi).

The file is edited as a copy. The copy replaces the file only when it loads
and validates; otherwise it is kept next to the file for fixing. Running
processes watching the file pick up a new logging level on save.

Examples:
  # Edit default config
  zcopy config edit

  # Edit specific config file
  zcopy config edit --config /etc/zcopy/config.yaml`,
	RunE: runConfigEdit,
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	original, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("configuration file not found: %s (create it with: zcopy config init --config %s)",
				configPath, configPath)
		}
		return err
	}

	draft := filepath.Join(filepath.Dir(configPath), "."+filepath.Base(configPath)+".edit.yaml")
	if err := os.WriteFile(draft, original, 0o600); err != nil {
		return fmt.Errorf("failed to create draft: %w", err)
	}

	editor := exec.Command(editorCommand(), draft)
	editor.Stdin, editor.Stdout, editor.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := editor.Run(); err != nil {
		_ = os.Remove(draft)
		return fmt.Errorf("failed to run editor: %w", err)
	}

	out := cmd.OutOrStdout()
	changed, err := applyDraft(draft, configPath, original)
	if err != nil {
		return err
	}
	if changed {
		_, _ = fmt.Fprintf(out, "Configuration saved to %s\n", configPath)
	} else {
		_, _ = fmt.Fprintln(out, "No changes")
	}
	return nil
}

// applyDraft replaces path with draft when draft differs from original and
// holds a valid configuration. An invalid draft is left in place.
func applyDraft(draft, path string, original []byte) (changed bool, err error) {
	edited, err := os.ReadFile(draft)
	if err != nil {
		return false, err
	}
	if bytes.Equal(edited, original) {
		return false, os.Remove(draft)
	}
	if _, err := config.Load(draft); err != nil {
		return false, fmt.Errorf("edited configuration is invalid, %s is unchanged and the edit is kept in %s: %w",
			path, draft, err)
	}
	if err := os.Rename(draft, path); err != nil {
		return false, fmt.Errorf("failed to save configuration: %w", err)
	}
	return true, nil
}

func editorCommand() string {
	for _, env := range []string{"VISUAL", "EDITOR"} {
		if e := os.Getenv(env); e != "" {
			return e
		}
	}
	return "vi"
}
