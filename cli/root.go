// Package cli implements the signally command line.
package cli

import (
	"fmt"
	"os"

	"signally/app"
	"signally/config"
	"signally/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// env carries what the persistent hooks build for the subcommands.
type env struct {
	cfgFile string
	app     *app.App
}

// NewRootCmd builds the command tree. Every subcommand shares one App, built
// before it runs and closed after.
func NewRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:   "signally",
		Short: "Media library transcoding and live channel playout",
		Long: `signally keeps a library of originals transcoded to a streamable
rendition and pushes channels (rotations of library items) to an RTMP
ingest through long-lived encoder processes.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&e.cfgFile, "config", "", "config file (default is ./signally_config.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")

	root.PersistentPreRunE = func(*cobra.Command, []string) error {
		return e.init(flags)
	}
	root.PersistentPostRunE = func(*cobra.Command, []string) error {
		if e.app == nil {
			return nil
		}
		return e.app.Close()
	}

	root.AddCommand(
		newServeCmd(e),
		newTranscodeCmd(e),
		newChannelCmd(e),
		newLineupCmd(e),
	)
	return root
}

// Execute runs the command line against os.Args.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

// init loads configuration, applies explicitly set log flags over it and
// builds the App. Flags are not bound to viper so an unset flag's default
// never shadows the environment or the config file.
func (e *env) init(flags *pflag.FlagSet) error {
	cfg, err := config.LoadFile(e.cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.LogFormat, _ = flags.GetString("log-format")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	a, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	e.app = a
	return nil
}
