package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/strrl/agentchat/pkg/models"
)

// NewSendCommand creates the send command
func NewSendCommand(a *app) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and print the agent's reply",
		Long: `Send a message to a session and print the reply.
Without --session the most recent session is used, or a new one is created.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl := a.controller()
			if err := ctrl.Start(ctx); err != nil {
				return err
			}
			if sessionID != "" {
				if err := ctrl.Select(ctx, sessionID); err != nil {
					return err
				}
			}

			if err := ctrl.Send(ctx, strings.Join(args, " ")); err != nil {
				return err
			}

			snap := ctrl.Snapshot()
			out := cmd.OutOrStdout()
			for i := len(snap.Messages) - 1; i >= 0; i-- {
				if snap.Messages[i].Role == models.RoleBot {
					fmt.Fprintln(out, snap.Messages[i].Content)
					break
				}
			}
			if session, ok := snap.ActiveSession(); ok {
				fmt.Fprintf(cmd.ErrOrStderr(), "(session %s: %s)\n", session.ID, session.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session to send to")
	return cmd
}
