package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/bugflow/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets coding agents read bugs and drive the workflow. Every mutating
tool takes the acting user's ID. Configure with:

  {
    "mcpServers": {
      "bugflow": { "command": "bugflow", "args": ["mcp"] }
    }
  }

Available tools: bugflow_list_bugs, bugflow_get_bug, bugflow_transition_bug,
bugflow_assign_qa, bugflow_block_bug, bugflow_unblock_bug,
bugflow_bug_history, bugflow_allowed_transitions`,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, s, err := getEngine()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
		defer stop()
		return mcp.NewServer(s, engine, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
