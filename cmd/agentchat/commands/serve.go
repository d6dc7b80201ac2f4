package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/strrl/agentchat/internal/backend"
	"github.com/strrl/agentchat/internal/db"
	"github.com/strrl/agentchat/internal/logger"
)

// NewServeCommand creates the serve command
func NewServeCommand(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local agent backend",
		Long: `Run the agent backend the chat client talks to. Sessions are stored in
DuckDB. Set USE_REAL_AGENT=true and TS_AGENT_PATH to answer with the
ts-ai-agent CLI; otherwise replies are mocked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.ListenAddr
			}

			database, err := db.Open(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer database.Close()

			var agent backend.Agent = backend.MockAgent{}
			if a.cfg.UseRealAgent {
				cli := &backend.CLIAgent{Path: a.cfg.TSAgentPath, Timeout: a.cfg.AgentTimeout}
				if !cli.Available() {
					logger.Warn("ts-ai-agent not found; queries will fail", "path", a.cfg.TSAgentPath)
				}
				agent = cli
			}

			srv := backend.NewServer(backend.NewStore(database), agent,
				backend.WithAgentInfo(a.cfg.UseRealAgent, a.cfg.TSAgentPath))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Serving agent backend on %s (db: %s)\n", addr, a.cfg.DBPath)
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from listen_addr)")
	return cmd
}
