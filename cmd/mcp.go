package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/guardian/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for issue triage",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client browse and triage the issues guardian has
recorded. Configure it with:

  {
    "mcpServers": {
      "guardian": { "command": "guardian", "args": ["mcp"] }
    }
  }

Available tools: guardian_list_issues, guardian_get_issue,
guardian_set_status, guardian_add_comment, guardian_list_comments`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return mcp.NewServer(s, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
