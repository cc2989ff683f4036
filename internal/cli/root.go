// Package cli is the kiosk proctor agent: it hosts the session controller on
// the student's machine, reading browser signals as JSON lines on stdin and
// writing snapshots and notices as JSON lines on stdout.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
)

var configPath string

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("PROCTOR_AGENT_CONFIG")

	cmd := &cobra.Command{
		Use:           "proctor-agent",
		Short:         "Kiosk bridge that runs a proctored assessment session",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML agent config")
	cmd.AddCommand(newRunCmd(&configPath))
	cmd.AddCommand(newDraftsCmd(&configPath))
	cmd.AddCommand(newIPCmd(&configPath))
	return cmd
}

// loadAgent merges the environment config with the YAML file and builds a
// stderr logger; stdout is reserved for the event stream.
func loadAgent(path string) (config.AgentConfig, zerolog.Logger, error) {
	base := config.Load()
	log := logger.SetupWriter(os.Stderr, base.LogLevel, base.LogFormat).
		With().Str("component", "proctor_agent").Logger()

	cfg, err := config.LoadAgent(path, base)
	if err != nil {
		return cfg, log, err
	}
	return cfg, log, nil
}
