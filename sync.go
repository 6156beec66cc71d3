package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// drainPollInterval is how often runSync checks whether the queue and
// tracker have drained during a one-shot run.
const drainPollInterval = 100 * time.Millisecond

// newSyncCmd runs one sync cycle: seed events from a local/remote diff, let
// the coordinator process them to completion, then stop (spec §4.15's event
// loop run until the backlog drains, rather than forever as in `watch`).
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle between the local directory and the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context())
		},
	}
}

func runSync(ctx context.Context) error {
	cc := mustCLIContext(ctx)

	r, cleanup, err := buildRig(ctx, cc, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := r.coord.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	seeded, err := seedOneShotEvents(ctx, r, cc.Settings.Sync.SyncRoot)
	if err != nil {
		_ = r.coord.Stop(30 * time.Second)
		return fmt.Errorf("diffing local and remote state: %w", err)
	}

	statusf(flagQuiet, "Seeded %d event(s) from local/remote diff.\n", seeded)

	waitForDrain(ctx, r)

	if err := r.coord.Stop(30 * time.Second); err != nil {
		return fmt.Errorf("stopping engine: %w", err)
	}

	statusf(flagQuiet, "Sync complete.\n")

	return nil
}

// waitForDrain blocks until the queue is empty and no transfer is active, or
// ctx is canceled.
func waitForDrain(ctx context.Context, r *rig) {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.queue.Len() == 0 && len(r.tracker.AllActive()) == 0 {
				return
			}
		}
	}
}
