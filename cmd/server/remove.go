package server

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/flowchat-ai/flowd/internal/cmd"
)

// RemoveCmd should be used to represent the 'server remove' command.
type RemoveCmd struct {
	*cmd.BaseCmd
}

// NewRemoveCmd creates a newly configured (Cobra) command.
func NewRemoveCmd(logger hclog.Logger) *cobra.Command {
	c := &RemoveCmd{
		BaseCmd: cmd.NewBaseCmd(logger),
	}

	cobraCommand := &cobra.Command{
		Use:   "remove <server-name>",
		Short: "Removes an MCP server from the flowd configuration",
		Long: "Removes an MCP server from the flowd configuration. " +
			"A running daemon disconnects the server on its next configuration reconcile.",
		Args: cobra.ExactArgs(1),
		RunE: c.run,
	}

	return cobraCommand
}

// run is configured (via NewRemoveCmd) to be called by the Cobra framework when the command is executed.
// It may return an error (or nil, when there is no error).
func (c *RemoveCmd) run(cobraCmd *cobra.Command, args []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	name := strings.TrimSpace(args[0])
	if name == "" {
		return fmt.Errorf("server name is required and cannot be empty")
	}

	store, err := openStore()
	if err != nil {
		return err
	}

	found, err := store.Has(name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("server '%s' not found in config", name)
	}

	if err := store.Delete(name); err != nil {
		return err
	}

	logger.Debug("Server removed", "name", name)
	fmt.Fprintf(cobraCmd.OutOrStdout(), "✓ Removed server '%s'\n", name)

	return nil
}
