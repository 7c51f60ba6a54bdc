// Package server holds the 'flowd server' commands that manage the persisted
// MCP server configuration.
package server

import (
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/flowchat-ai/flowd/internal/config"
	"github.com/flowchat-ai/flowd/internal/flags"
)

// NewServerCmd creates the parent command grouping server management commands.
func NewServerCmd(logger hclog.Logger) *cobra.Command {
	serverCmd := &cobra.Command{
		Use:   "server <command> [args]",
		Short: "Manage the MCP servers in the flowd configuration",
	}

	serverCmd.AddCommand(NewAddCmd(logger))
	serverCmd.AddCommand(NewRemoveCmd(logger))
	serverCmd.AddCommand(NewListCmd(logger))

	return serverCmd
}

// openStore returns the file-backed config store behind the configured path.
func openStore() (*config.FileStore, error) {
	return config.NewFileStore(flags.ConfigFile)
}
