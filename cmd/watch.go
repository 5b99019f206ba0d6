/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Load the dashboard and keep checking the application is reachable",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runWatch(cmd); err != nil {
			log.Fatalf("Watch failed: %v", err)
		}
	},
}

func runWatch(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cmd, "")
	if err != nil {
		return err
	}
	defer s.Close()

	hb := s.cfg.Heartbeat
	if hb.Interval <= 0 {
		log.Printf("Heartbeat disabled")
		return nil
	}
	if s.ctrl.Page().Path() != hb.Path {
		log.Printf("Heartbeat only runs on %s, loaded %s", hb.Path, s.ctrl.Page().Path())
		return nil
	}
	log.Printf("Checking %s every %s, Ctrl-C to stop", hb.Path, hb.Interval)
	s.ctrl.RunHeartbeat(ctx, hb.Interval, hb.Path)
	return nil
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addSessionFlags(watchCmd, "/")
}
