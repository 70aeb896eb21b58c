package cmd

import (
	"github.com/slush-dev/pushrelay/internal/mcpserver"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP (Model Context Protocol) server on stdio",
	Long: `Start an MCP server that exposes a push pipeline as tools and resources
for LLM integration. Messages are injected with inject_message; shown
notifications can be opened or dismissed and are listed at push://notifications.

The server communicates via JSON-RPC over stdin/stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context(), cfg.Dedup)
		if err != nil {
			return err
		}
		defer st.close()

		s := mcpserver.New(rootCmd.Version, logger, pipelineOptions(cfg, st, logger)...)
		return s.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
