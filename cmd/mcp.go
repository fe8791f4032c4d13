package cmd

import (
	"github.com/spf13/cobra"

	mcpserver "github.com/joescharf/tamv/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This allows Claude Code to query tamv natively for layer progress,
tasks and deployments. Configure in Claude Code with:

  {
    "mcpServers": {
      "tamv": { "command": "tamv", "args": ["mcp"] }
    }
  }

Available tools: tamv_dashboard, tamv_layer_progress, tamv_list_tasks,
tamv_priority_tasks, tamv_create_task, tamv_update_task,
tamv_set_module_progress, tamv_record_deployment`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		return mcpserver.NewServer(s, buildVersion).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
