package server

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/flowchat-ai/flowd/internal/cmd"
	"github.com/flowchat-ai/flowd/internal/config"
	internalerrors "github.com/flowchat-ai/flowd/internal/errors"
)

// AddCmd should be used to represent the 'server add' command.
type AddCmd struct {
	*cmd.BaseCmd
	Type    string
	Command string
	Args    []string
	Env     []string
	URL     string
	Headers []string
}

// NewAddCmd creates a newly configured (Cobra) command.
func NewAddCmd(logger hclog.Logger) *cobra.Command {
	c := &AddCmd{
		BaseCmd: cmd.NewBaseCmd(logger),
	}

	cobraCommand := &cobra.Command{
		Use:   "add <server-name>",
		Short: "Adds an MCP server to the flowd configuration",
		Long:  c.longDescription(),
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}

	cobraCommand.Flags().StringVar(
		&c.Type,
		"type",
		string(config.TransportStdio),
		"Transport type for the server (stdio or sse)",
	)
	cobraCommand.Flags().StringVar(
		&c.Command,
		"command",
		"",
		"Command to launch a stdio server",
	)
	cobraCommand.Flags().StringArrayVar(
		&c.Args,
		"arg",
		nil,
		"Argument passed to the stdio server command (can be repeated)",
	)
	cobraCommand.Flags().StringArrayVar(
		&c.Env,
		"env",
		nil,
		"Environment variable for the stdio server as KEY=VALUE (can be repeated)",
	)
	cobraCommand.Flags().StringVar(
		&c.URL,
		"url",
		"",
		"Endpoint URL for an sse server",
	)
	cobraCommand.Flags().StringArrayVar(
		&c.Headers,
		"header",
		nil,
		"Request header for an sse server as KEY=VALUE (can be repeated)",
	)

	return cobraCommand
}

// longDescription returns the long version of the command description.
func (c *AddCmd) longDescription() string {
	return `Adds an MCP server to the flowd configuration.
A running daemon picks up the new server on its next configuration reconcile.`
}

// run is configured (via NewAddCmd) to be called by the Cobra framework when the command is executed.
// It may return an error (or nil, when there is no error).
func (c *AddCmd) run(cobraCmd *cobra.Command, args []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	name := strings.TrimSpace(args[0])
	if name == "" {
		return fmt.Errorf("server name is required and cannot be empty")
	}

	env, err := parsePairs(c.Env, "env")
	if err != nil {
		return err
	}
	headers, err := parsePairs(c.Headers, "header")
	if err != nil {
		return err
	}

	cfg := config.ServerConfig{
		Type:    config.Transport(strings.ToLower(strings.TrimSpace(c.Type))),
		Command: strings.TrimSpace(c.Command),
		Args:    c.Args,
		Env:     env,
		URL:     strings.TrimSpace(c.URL),
		Headers: headers,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}

	// Unlike the daemon API, the CLI refuses to silently overwrite.
	found, err := store.Has(name)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("%w: %s", internalerrors.ErrServerExists, name)
	}

	if err := store.Save(name, cfg); err != nil {
		return err
	}

	logger.Debug("Server added", "name", name, "type", cfg.Type)
	fmt.Fprintf(cobraCmd.OutOrStdout(), "✓ Added server '%s' (%s)\n", name, cfg.Type)

	return nil
}

// parsePairs converts KEY=VALUE strings to a map, rejecting malformed input.
func parsePairs(pairs []string, kind string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid %s '%s', expected KEY=VALUE", kind, pair)
		}
		out[key] = value
	}

	return out, nil
}
