package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/strrl/agentchat/internal/settings"
	"gopkg.in/yaml.v3"
)

// NewSettingsCommand creates the settings command
func NewSettingsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show the chat display settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(a.settings.Get())
			if err != nil {
				return fmt.Errorf("failed to encode settings: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", a.settings.Path(), data)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Change a display setting",
		Args:      cobra.ExactArgs(2),
		ValidArgs: settings.Keys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.settings.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", args[0])
			return nil
		},
	})

	return cmd
}
