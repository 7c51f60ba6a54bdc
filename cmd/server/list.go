package server

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/flowchat-ai/flowd/internal/cmd"
	"github.com/flowchat-ai/flowd/internal/cmd/output"
	"github.com/flowchat-ai/flowd/internal/config"
)

// ListCmd should be used to represent the 'server list' command.
type ListCmd struct {
	*cmd.BaseCmd
	Format cmd.OutputFormat
}

// NewListCmd creates a newly configured (Cobra) command.
func NewListCmd(logger hclog.Logger) *cobra.Command {
	c := &ListCmd{
		BaseCmd: cmd.NewBaseCmd(logger),
		Format:  cmd.FormatText,
	}

	cobraCommand := &cobra.Command{
		Use:   "list",
		Short: "Lists the MCP servers in the flowd configuration",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}

	allowedFormats := cmd.AllowedOutputFormats()
	cobraCommand.Flags().Var(
		&c.Format,
		"format",
		fmt.Sprintf("Output format, one of: %s", allowedFormats.String()),
	)

	return cobraCommand
}

// run is configured (via NewListCmd) to be called by the Cobra framework when the command is executed.
// It may return an error (or nil, when there is no error).
func (c *ListCmd) run(cobraCmd *cobra.Command, _ []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	entries, err := store.Entries()
	if err != nil {
		return err
	}

	slices.SortFunc(entries, func(a, b config.ServerEntry) int {
		return strings.Compare(a.Name, b.Name)
	})

	handler, err := cmd.NewHandler[config.ServerEntry](c.Format, cobraCmd.OutOrStdout(), entryPrinter())
	if err != nil {
		return err
	}

	return handler.HandleResults(entries...)
}

// entryPrinter renders config entries for text output.
func entryPrinter() output.FuncPrinter[config.ServerEntry] {
	return output.FuncPrinter[config.ServerEntry]{
		HeaderFn: func(w io.Writer, count int) {
			_, _ = fmt.Fprintf(w, "Configured servers (%d):\n", count)
		},
		ItemFn: func(w io.Writer, entry config.ServerEntry) error {
			target := entry.Config.Command
			if entry.Config.Type == config.TransportSSE {
				target = entry.Config.URL
			}

			state := ""
			if !entry.Enabled {
				state = " [disabled]"
			}

			_, err := fmt.Fprintf(w, "  %s (%s) %s%s\n", entry.Name, entry.Config.Type, target, state)
			return err
		},
	}
}
