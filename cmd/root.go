// Package cmd implements the scriptkeeper command-line interface: cobra
// commands wiring configuration, the supervisor, and the available
// frontends together.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/scriptkeeper/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "scriptkeeper",
	Short: "scriptkeeper — sandboxed, git-backed script evaluator",
	Long: "scriptkeeper runs a sandboxed multi-tenant script evaluator with " +
		"git-backed content-addressed persistence of procs and global " +
		"variables, served through interchangeable frontends (chat, " +
		"HTTP/JSON, terminal).",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $SCRIPTKEEPER_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(replCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(rollbackCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("scriptkeeper %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("SCRIPTKEEPER_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
