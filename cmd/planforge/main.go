// Package main implements the planforge CLI: an HTTP planning server and an
// interactive terminal planner.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"planforge/pkg/logx"
	"planforge/pkg/version"
)

var (
	// configPath is an optional YAML file layered over the embedded defaults.
	configPath string
	// debug enables debug logging for every domain.
	debug bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "planforge",
	Short: "Turn a project pitch into an approved plan and a repository skeleton",
	Long: `planforge drives a short planning conversation with a language model:
it asks clarifying questions about a project pitch, drafts a structured plan,
applies revision notes, and scaffolds a repository once the plan is approved.

Run it as an HTTP service (serve) or interactively in a terminal (run).`,
	Version:       version.Version,
	SilenceUsage:  true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if debug {
			logx.SetDebug(true)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Println(version.Print())
	},
}
