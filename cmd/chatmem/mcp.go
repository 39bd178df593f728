package main

import (
	"github.com/spf13/cobra"

	"github.com/flemzord/chatmem/internal/mcptools"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the conversation store as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			return mcptools.New(rt.Store, version, rt.Logger).ServeStdio()
		},
	}
}
