package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/flowchat-ai/flowd/cmd/server"
	"github.com/flowchat-ai/flowd/internal/cmd"
	"github.com/flowchat-ai/flowd/internal/flags"
)

// RootCmd should be used to represent the root 'flowd' command.
type RootCmd struct {
	*cmd.BaseCmd
}

func Execute() error {
	logger, err := configureLogger()
	if err != nil {
		return fmt.Errorf("error executing root command: %w", err)
	}

	rootCmd := NewRootCmd(logger)

	return rootCmd.Execute()
}

func NewRootCmd(logger hclog.Logger) *cobra.Command {
	c := &RootCmd{
		BaseCmd: cmd.NewBaseCmd(logger),
	}

	rootCmd := &cobra.Command{
		Use:          "flowd <command> [args]",
		Short:        "'flowd' manages connections to the MCP servers a chat application depends on.",
		Long:         c.longDescription(),
		SilenceUsage: true,
		Version:      cmd.Version(),
	}

	// Global flags
	flags.InitFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(NewInitCmd(logger))
	rootCmd.AddCommand(NewDaemonCmd(logger))
	rootCmd.AddCommand(server.NewServerCmd(logger))

	return rootCmd
}

func (c *RootCmd) longDescription() string {
	return `The 'flowd' CLI manages the MCP server connections behind a chat application:
it maintains the persisted server configuration and runs the daemon that
supervises the connections and serves the HTTP API the chat UI consumes.`
}

func configureLogger() (hclog.Logger, error) {
	logPath := strings.TrimSpace(os.Getenv(flags.EnvVarLogPath))

	// If FLOWD_LOG_PATH is not set, don't log anywhere.
	logOutput := io.Discard

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file (%s): %w", logPath, err)
		}
		logOutput = f
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "flowd",
		Level:  hclog.LevelFromString(getLogLevel()),
		Output: logOutput,
	})

	return logger, nil
}

func getLogLevel() string {
	lvl := strings.ToLower(os.Getenv(flags.EnvVarLogLevel))
	switch lvl {
	case "trace", "debug", "info", "warn", "error", "off":
		return lvl
	default:
		return flags.DefaultLogLevel
	}
}
