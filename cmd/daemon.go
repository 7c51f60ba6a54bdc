package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/flowchat-ai/flowd/internal/cmd"
	"github.com/flowchat-ai/flowd/internal/config"
	"github.com/flowchat-ai/flowd/internal/daemon"
	"github.com/flowchat-ai/flowd/internal/flags"
	"github.com/flowchat-ai/flowd/internal/session"
)

// DaemonCmd should be used to represent the 'daemon' command.
type DaemonCmd struct {
	*cmd.BaseCmd
	Dev         bool
	Addr        string
	CORSEnabled bool
	CORSOrigins []string
}

// NewDaemonCmd creates a newly configured (Cobra) command.
func NewDaemonCmd(logger hclog.Logger) *cobra.Command {
	c := &DaemonCmd{
		BaseCmd: cmd.NewBaseCmd(logger),
	}

	cobraCommand := &cobra.Command{
		Use:   "daemon [--dev] [--addr]",
		Short: "Launches a flowd daemon instance",
		Long: "Launches a flowd daemon instance, which connects the configured MCP servers " +
			"and provides routing via HTTP API",
		RunE: c.run,
	}

	cobraCommand.Flags().BoolVar(
		&c.Dev,
		"dev",
		false,
		"Run the daemon in development-focused mode",
	)

	cobraCommand.Flags().StringVar(
		&c.Addr,
		"addr",
		"0.0.0.0:8090",
		"Address for the daemon to bind (not applicable in --dev mode)",
	)

	cobraCommand.Flags().BoolVar(
		&c.CORSEnabled,
		"cors",
		false,
		"Enable CORS for the HTTP API",
	)

	cobraCommand.Flags().StringSliceVar(
		&c.CORSOrigins,
		"cors-origin",
		[]string{"*"},
		"Allowed CORS origins (can be repeated)",
	)

	cobraCommand.MarkFlagsMutuallyExclusive("dev", "addr")

	return cobraCommand
}

// run is configured (via NewDaemonCmd) to be called by the Cobra framework when the command is executed.
// It may return an error (or nil, when there is no error).
func (c *DaemonCmd) run(_ *cobra.Command, _ []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	addr := strings.TrimSpace(c.Addr)

	// Override address for dev mode.
	if c.Dev {
		devAddr := "localhost:8090"
		logger.Info("Development-focused mode", "addr", addr, "override", devAddr)
		addr = devAddr
	}

	if err := daemon.IsValidAddr(addr); err != nil {
		return err
	}

	store, err := config.NewFileStore(flags.ConfigFile)
	if err != nil {
		return fmt.Errorf("error opening config store: %w", err)
	}

	registry, err := session.NewRegistry(logger, store)
	if err != nil {
		return fmt.Errorf("error creating session registry: %w", err)
	}

	deps, err := daemon.NewDependencies(logger, registry, addr)
	if err != nil {
		return fmt.Errorf("error configuring flowd daemon dependencies: %w", err)
	}

	d, err := daemon.NewDaemon(
		deps,
		daemon.WithAPIOptions(
			daemon.WithCORSEnabled(c.CORSEnabled),
			daemon.WithCORSAllowOrigins(c.CORSOrigins),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create flowd daemon instance: %w", err)
	}

	// Create the signal handling context for the application.
	daemonCtx, daemonCtxCancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM, syscall.SIGINT,
	)
	defer daemonCtxCancel()

	runErr := make(chan error, 1)
	go func() {
		if err := d.StartAndManage(daemonCtx); err != nil && !errors.Is(err, context.Canceled) {
			runErr <- err
		}
		close(runErr)
	}()

	// Print --dev mode banner if required.
	if c.Dev {
		logger.Info("Launching daemon in dev mode", "addr", addr)
		banner := fmt.Sprintf("flowd daemon running in 'dev' mode.\n\n"+
			"  Local API:\thttp://%s/api/v1\n"+
			"  OpenAPI UI:\thttp://%s/docs\n"+
			"  Config file:\t%s\n",
			addr, addr, flags.ConfigFile)

		if flags.LogPath != "" {
			banner += fmt.Sprintf("  Log file:\t%s => (%s)\n", flags.LogPath, flags.LogLevel)
		}

		banner += "\nPress Ctrl+C to stop.\n\n"
		fmt.Print(banner)
	}

	select {
	case <-daemonCtx.Done():
		logger.Info("Shutting down daemon")
		err := <-runErr // Wait for cleanup and deferred logging.
		return err      // Graceful Ctrl+C / SIGTERM.
	case err := <-runErr:
		if err != nil {
			logger.Error("daemon exited with error", "error", err)
		}
		return err // Propagate daemon failure.
	}
}
