package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/flowchat-ai/flowd/internal/cmd"
	"github.com/flowchat-ai/flowd/internal/config"
	"github.com/flowchat-ai/flowd/internal/flags"
)

// InitCmd should be used to represent the 'init' command.
type InitCmd struct {
	*cmd.BaseCmd
}

// NewInitCmd creates a newly configured (Cobra) command.
func NewInitCmd(logger hclog.Logger) *cobra.Command {
	c := &InitCmd{
		BaseCmd: cmd.NewBaseCmd(logger),
	}

	cobraCommand := &cobra.Command{
		Use:   "init",
		Short: "Initializes a flowd configuration file",
		Long:  c.longDescription(),
		RunE:  c.run,
	}

	return cobraCommand
}

// longDescription returns the long version of the command description.
func (c *InitCmd) longDescription() string {
	return fmt.Sprintf(
		"Initializes a flowd configuration file, creating an empty %s.\n\n"+
			"The configuration file path can be overridden using the `--%s` flag "+
			"or the `%s` environment variable.",
		flags.DefaultConfigFile,
		flags.FlagNameConfigFile,
		flags.EnvVarConfigFile,
	)
}

// run is configured (via NewInitCmd) to be called by the Cobra framework when the command is executed.
func (c *InitCmd) run(cobraCmd *cobra.Command, _ []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	initFilePath := flags.ConfigFile

	// The default value means create it in the current working directory.
	if initFilePath == flags.DefaultConfigFile {
		cwd, err := os.Getwd()
		if err != nil {
			logger.Error("Failed to get working directory", "error", err)
			return fmt.Errorf("error getting current directory: %w", err)
		}
		initFilePath = filepath.Join(cwd, flags.DefaultConfigFile)
	}

	store, err := config.NewFileStore(initFilePath)
	if err != nil {
		return err
	}

	if err := store.Init(); err != nil {
		logger.Error("Failed to initialize config file", "path", initFilePath, "error", err)
		return err
	}

	fmt.Fprintf(cobraCmd.OutOrStdout(), "Created config file: %s\n", initFilePath)

	return nil
}
