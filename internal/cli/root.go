// Package cli implements the dispatcher command line.
package cli

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentdispatch"
	"github.com/hupe1980/agentdispatch/config"
)

// version can be overridden at build time via:
// go build -ldflags "-X github.com/hupe1980/agentdispatch/internal/cli.version=1.2.3"
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:          "dispatcher",
	Short:        "Multi-agent dispatcher bot",
	Long:         color.CyanString("dispatcher") + " routes @alias mentions to remote Copilot Studio agents and answers everything else with a chat model.",
	Version:      version,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML or TOML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(agentsCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func newApp(ctx context.Context, cfg *config.Config, optFns ...func(o *agentdispatch.Options)) (*agentdispatch.App, error) {
	fns := append([]func(o *agentdispatch.Options){func(o *agentdispatch.Options) { o.Version = version }}, optFns...)
	return agentdispatch.New(ctx, cfg, fns...)
}
