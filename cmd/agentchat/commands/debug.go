package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// NewDebugCommand creates the debug-session command
func NewDebugCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "debug-session <session-id>",
		Short: "Debug a session's raw history and the backend configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			sessionID := args[0]

			fmt.Fprintf(out, "Backend: %s\n", a.client.BaseURL())
			status, err := a.client.Status(ctx)
			if err != nil {
				fmt.Fprintf(out, "Backend status: unavailable (%v)\n", err)
			} else {
				keys := make([]string, 0, len(status))
				for k := range status {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "  %s: %v\n", k, status[k])
				}
			}

			history, err := a.client.FetchHistory(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("failed to debug session: %w", err)
			}

			fmt.Fprintf(out, "\nSession ID: %s\n", sessionID)
			fmt.Fprintf(out, "Total messages: %d\n", len(history))
			fmt.Fprintln(out, "\nRaw history:")
			data, err := json.MarshalIndent(history, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode history: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		},
	}
}
