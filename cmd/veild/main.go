package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hollowtree/veild"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(veild.ExitCode(err))
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:          "veild",
		Short:        "Anonymity-network fleet supervisor",
		Long:         "veild bootstraps, health-gates, and keeps alive the tor/i2pd proxy daemons and the workers that depend on them.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to veild.toml (empty: built-in defaults)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override configured log level (debug|info|warn|error)")

	root.AddCommand(
		newRunCmd(flags),
		newRenderCmd(flags),
		newReseedCmd(flags),
		newVersionCmd(),
	)
	return root
}

func loadConfig(flags *globalFlags) (veild.Config, error) {
	cfg, err := veild.LoadConfig(flags.configPath)
	if err != nil {
		return cfg, err
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	return cfg, nil
}
