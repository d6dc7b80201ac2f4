package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/strrl/agentchat/internal/config"
	"github.com/strrl/agentchat/internal/gateway"
	"github.com/strrl/agentchat/internal/logger"
	"github.com/strrl/agentchat/internal/sessions"
	"github.com/strrl/agentchat/internal/settings"
	"github.com/strrl/agentchat/internal/tui"
)

var (
	debugMode  bool
	configFile string
)

// app carries what every command needs once configuration is resolved
type app struct {
	cfg      config.Config
	settings *settings.Manager
	client   *gateway.Client
}

func (a *app) controller() *sessions.Controller {
	return sessions.NewController(a.client,
		sessions.WithRequestTimeout(a.cfg.RequestTimeout),
		sessions.WithLogger(logger.With("component", "sync", "backend", a.cfg.BackendURL)),
	)
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	v := config.New()
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "agentchat",
		Short: "Chat with the time series analysis agent",
		Long: `agentchat is a terminal chat client for the time series AI agent.
Run it without a subcommand to open the interactive chat.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd, v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, a)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default: ./agentchat.yaml or ~/.agentchat/agentchat.yaml)")
	flags.String("backend", "", "agent backend API base URL")
	flags.Duration("timeout", 0, "timeout for each backend request")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "write logs to this file")
	rootCmd.Flags().BoolVar(&debugMode, "debug", false, "Run in debug mode (list sessions without TUI)")

	// viper only prefers a bound flag when it was set on the command line
	_ = v.BindPFlag(config.KeyBackendURL, flags.Lookup("backend"))
	_ = v.BindPFlag(config.KeyRequestTimeout, flags.Lookup("timeout"))
	_ = v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	_ = v.BindPFlag(config.KeyLogFile, flags.Lookup("log-file"))

	rootCmd.AddCommand(NewShowCommand(a))
	rootCmd.AddCommand(NewSendCommand(a))
	rootCmd.AddCommand(NewNewCommand(a))
	rootCmd.AddCommand(NewRenameCommand(a))
	rootCmd.AddCommand(NewDeleteCommand(a))
	rootCmd.AddCommand(NewExportCommand(a))
	rootCmd.AddCommand(NewDebugCommand(a))
	rootCmd.AddCommand(NewSettingsCommand(a))
	rootCmd.AddCommand(NewServeCommand(a))

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) load(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}

	logFile := cfg.LogFile
	if cmd.Root() == cmd && !debugMode {
		// the chat UI owns the terminal
		logFile = cfg.TUILogFile()
	}
	if err := logger.Configure(cfg.LogLevel, logFile); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	a.cfg = cfg
	a.settings = settings.Load(cfg.SettingsPath)
	a.client = gateway.New(cfg.BackendURL)
	logger.Debug("configuration loaded", "backend", cfg.BackendURL, "settings", cfg.SettingsPath)
	return nil
}

func runTUI(cmd *cobra.Command, a *app) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Debug mode: just list sessions without TUI
	if debugMode {
		return runDebugMode(ctx, cmd, a)
	}

	err := tui.Run(ctx, tui.Options{
		Controller: a.controller(),
		Settings:   a.settings.Get(),
		ExportDir:  ".",
	})
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func runDebugMode(ctx context.Context, cmd *cobra.Command, a *app) error {
	out := cmd.OutOrStdout()
	ctrl := a.controller()
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	snap := ctrl.Snapshot()
	fmt.Fprintln(out, "=== Debug Mode: Sessions ===")
	fmt.Fprintf(out, "Backend: %s\n", a.client.BaseURL())
	if len(snap.Sessions) == 0 {
		fmt.Fprintln(out, "No sessions found")
		return nil
	}
	for i, session := range snap.Sessions {
		marker := " "
		if session.ID == snap.ActiveID {
			marker = "*"
		}
		fmt.Fprintf(out, "\n%s %d. %s\n", marker, i+1, session.Name)
		fmt.Fprintf(out, "     ID: %s\n", session.ID)
	}
	fmt.Fprintf(out, "\nActive session has %d messages\n", len(snap.Messages))
	return nil
}
