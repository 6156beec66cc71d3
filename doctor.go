package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncagent/engine/internal/config"
	"github.com/syncagent/engine/internal/remote"
)

// newDoctorCmd checks connectivity to the relay server using the same
// health probe the retry package's NetworkWait mode polls (spec §4.11
// "poll server health"), without starting the full engine.
func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check connectivity to the registered relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context())
		},
	}
}

func runDoctor(ctx context.Context) error {
	cc := mustCLIContext(ctx)

	reg, err := config.LoadRegistration(config.DefaultRegistrationPath())
	if err != nil {
		return fmt.Errorf("load registration (run `syncengine register` first): %w", err)
	}

	if cc.Settings.ServerURLOverride != "" {
		reg.ServerURL = cc.Settings.ServerURLOverride
	}

	client := remote.NewClient(reg.ServerURL, reg.AuthToken, nil, cc.Logger)

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	err = client.Health(checkCtx)
	elapsed := time.Since(start)

	if err != nil {
		statusf(flagQuiet, "Relay server %s: UNREACHABLE (%v)\n", reg.ServerURL, err)
		return err
	}

	statusf(flagQuiet, "Relay server %s: OK (%s, %s)\n", reg.ServerURL, reg.MachineName, elapsed.Round(time.Millisecond))

	return nil
}
