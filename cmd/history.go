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

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent committed revisions",
		Run: func(cmd *cobra.Command, args []string) {
			runHistory(limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of revisions to show")
	return cmd
}

func runHistory(limit int) {
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

	revs, err := sup.History(limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "history error:", err)
		os.Exit(1)
	}
	for _, r := range revs {
		fmt.Printf("%s %s %s %s\n", r.ShortID(), r.Time.Format("2006-01-02 15:04:05"), r.Author, r.Message)
	}
}
