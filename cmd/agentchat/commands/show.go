package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/strrl/agentchat/pkg/models"
)

// NewShowCommand creates the show command
func NewShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show sessions or a session's messages without TUI",
		Long: `Show sessions or messages in a non-interactive format.
Without arguments: lists all sessions
With a session ID: shows the full history of that session`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return showSessions(cmd, a)
			}
			return showMessages(cmd, a, args[0])
		},
	}
}

func showSessions(cmd *cobra.Command, a *app) error {
	list, err := a.client.ListSessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No sessions found")
		return nil
	}

	fmt.Fprintln(out, "Sessions:")
	fmt.Fprintln(out, "=========")
	for i, session := range list {
		fmt.Fprintf(out, "%d. %s\n", i+1, session.Name)
		fmt.Fprintf(out, "   ID: %s\n", session.ID)
	}
	return nil
}

func showMessages(cmd *cobra.Command, a *app, sessionID string) error {
	history, err := a.client.FetchHistory(cmd.Context(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(history) == 0 {
		fmt.Fprintf(out, "No messages in session '%s'\n", sessionID)
		return nil
	}

	fmt.Fprintf(out, "Messages for session '%s':\n", sessionID)
	fmt.Fprintln(out, "===================================")
	printMessages(out, history)
	return nil
}

func printMessages(out io.Writer, history []models.Message) {
	for i, msg := range history {
		label := "You"
		if msg.Role == models.RoleBot {
			label = "Agent"
		}
		fmt.Fprintf(out, "%d. [%s] %s\n", i+1, label, msg.Timestamp)
		fmt.Fprintf(out, "%s\n\n", msg.Content)
	}
}
