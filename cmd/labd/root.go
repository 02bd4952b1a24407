package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/flitsinc/agentlab/internal/config"
)

type rootFlags struct {
	configFile string
	envFile    string
	logLevel   string
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	flags  rootFlags
	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "labd",
		Short:         "Real-time sync daemon for the agent lab dashboard",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVarP(&a.flags.configFile, "config", "c", "", "config file (yaml, toml or json)")
	root.PersistentFlags().StringVar(&a.flags.envFile, "env-file", "", "dotenv file (default .env)")
	root.PersistentFlags().StringVar(&a.flags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(a),
		newReplayCmd(a),
		newProjectsCmd(a),
		newMissionCmd(a),
		newAgentsCmd(a),
		newMemoryCmd(a),
		newContractsCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: a.flags.configFile, EnvFile: a.flags.envFile})
	if err != nil {
		return err
	}
	if a.flags.logLevel != "" {
		cfg.LogLevel = a.flags.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(a.logger)
	return nil
}
