package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/scriptkeeper/internal/config"
	"github.com/nextlevelbuilder/scriptkeeper/internal/frontend/repl"
	"github.com/nextlevelbuilder/scriptkeeper/internal/roommap"
	"github.com/nextlevelbuilder/scriptkeeper/internal/service"
	"github.com/nextlevelbuilder/scriptkeeper/internal/supervisor"
)

var (
	replUser  string
	replAdmin bool
)

func replCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Run a local terminal session against the evaluator",
		Run: func(cmd *cobra.Command, args []string) {
			runREPL()
		},
	}
	cmd.Flags().StringVar(&replUser, "user", "local", "identity to evaluate as")
	cmd.Flags().BoolVar(&replAdmin, "admin", true, "grant admin privileges in this session")
	return cmd
}

func runREPL() {
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

	svc := service.New(cfg, sup)
	r := repl.New(svc, os.Stdin, os.Stdout, replUser, replAdmin)
	if err := r.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "repl error:", err)
		os.Exit(1)
	}
}
