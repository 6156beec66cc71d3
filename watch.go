package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncagent/engine/internal/config"
)

// newWatchCmd runs the engine continuously: watcher, push listener, and
// worker pool all running until interrupted (spec §4.15 "top-level event
// loop"). Only one instance may run against a given config directory at a
// time, enforced by a PID file and flock (pidfile.go).
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Continuously sync local and remote changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context())
		},
	}
}

func runWatch(ctx context.Context) error {
	cc := mustCLIContext(ctx)

	pidPath := filepath.Join(config.DefaultConfigDir(), "watch.pid")

	cleanupPID, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer cleanupPID()

	r, cleanup, err := buildRig(ctx, cc, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	runCtx := shutdownContext(ctx, cc.Logger)

	if err := r.coord.Start(runCtx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	statusf(flagQuiet, "Watching %s for changes. Press Ctrl-C to stop.\n", cc.Settings.Sync.SyncRoot)

	<-runCtx.Done()

	statusf(flagQuiet, "Shutting down...\n")

	return r.coord.Stop(30 * time.Second)
}
