package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewNewCommand creates the new command
func NewNewCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new [name]",
		Short: "Create a chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl := a.controller()
			if err := ctrl.Start(ctx); err != nil {
				return err
			}
			session, err := ctrl.CreateSession(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created session '%s' (%s)\n", session.Name, session.ID)
			return nil
		},
	}
}

// NewRenameCommand creates the rename command
func NewRenameCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <session-id> <name>",
		Short: "Rename a chat session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl := a.controller()
			if err := ctrl.Start(ctx); err != nil {
				return err
			}
			name := strings.Join(args[1:], " ")
			if err := ctrl.Rename(ctx, args[0], name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed session %s to '%s'\n", args[0], strings.TrimSpace(name))
			return nil
		},
	}
}

// NewDeleteCommand creates the delete command
func NewDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a chat session and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl := a.controller()
			if err := ctrl.Start(ctx); err != nil {
				return err
			}
			if err := ctrl.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
			return nil
		},
	}
}
