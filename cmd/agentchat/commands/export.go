package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/strrl/agentchat/internal/export"
)

// NewExportCommand creates the export command
func NewExportCommand(a *app) *cobra.Command {
	var dir string
	var toStdout bool

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session's history as a text transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := a.client.FetchHistory(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to fetch history: %w", err)
			}

			if toStdout {
				return export.Write(cmd.OutOrStdout(), history)
			}
			path, err := export.WriteFile(dir, args[0], history)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "directory to write the transcript to")
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "print the transcript instead of writing a file")
	return cmd
}
