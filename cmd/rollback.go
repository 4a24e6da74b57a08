package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/scriptkeeper/internal/config"
	"github.com/nextlevelbuilder/scriptkeeper/internal/roommap"
	"github.com/nextlevelbuilder/scriptkeeper/internal/supervisor"
)

func rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback [revision]",
		Short: "Roll the state repository back to a prior revision",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runRollback(args[0])
		},
	}
}

func runRollback(id string) {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	rooms := roommap.New()
	timeout := time.Duration(cfg.EvalTimeout()) * time.Millisecond
	sup, err := supervisor.New(cfg.StateRoot(), cfg.StateRepo(), cfg.SSHKeyPath(), rooms, timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start supervisor:", err)
		os.Exit(1)
	}
	defer sup.Shutdown()

	if err := sup.Rollback(id); err != nil {
		fmt.Fprintln(os.Stderr, "rollback error:", err)
		os.Exit(1)
	}
	fmt.Printf("rolled back to %s\n", id)
}
