package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncagent/engine/internal/config"
	"github.com/syncagent/engine/internal/remote"
	"github.com/syncagent/engine/internal/state"
)

// newRegisterCmd exchanges an invitation token for a machine bearer token
// (spec §6 POST /api/machines/register) and writes config.json, the
// source-of-truth registration record (DESIGN.md open question 2).
func newRegisterCmd() *cobra.Command {
	var (
		serverURL  string
		name       string
		invitation string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this machine with the relay server",
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRegister(cmd.Context(), serverURL, name, invitation)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server-url", "", "relay server base URL")
	cmd.Flags().StringVar(&name, "name", "", "machine name (default: hostname)")
	cmd.Flags().StringVar(&invitation, "invite", "", "invitation token")

	return cmd
}

func runRegister(ctx context.Context, serverURL, name, invitation string) error {
	reader := bufio.NewReader(os.Stdin)

	var err error

	if serverURL == "" {
		serverURL, err = readLine(reader, "Relay server URL: ")
		if err != nil {
			return err
		}
	}

	if name == "" {
		name, err = readLine(reader, "Machine name (blank for hostname): ")
		if err != nil {
			return err
		}

		if name == "" {
			name, _ = os.Hostname()
		}
	}

	if invitation == "" {
		invitation, err = readLine(reader, "Invitation token: ")
		if err != nil {
			return err
		}
	}

	client := remote.NewClient(serverURL, "", nil, nil)

	result, err := client.Register(ctx, name, runtime.GOOS, invitation)
	if err != nil {
		return fmt.Errorf("registering with %s: %w", serverURL, err)
	}

	logger := buildLogger(nil)

	settings, err := config.LoadSettingsOrDefault(config.DefaultSettingsPath(), logger)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	regPath := config.DefaultRegistrationPath()

	reg := &config.Registration{
		ServerURL:   serverURL,
		AuthToken:   result.Token,
		MachineName: result.Machine.Name,
		SyncFolder:  settings.Sync.SyncRoot,
	}

	if err := config.SaveRegistration(regPath, reg); err != nil {
		return fmt.Errorf("saving registration: %w", err)
	}

	// Mirror into the runtime state store so the coordinator's hot path
	// never has to touch config.json (DESIGN.md open question 2).
	store, err := state.Open(ctx, config.DefaultStatePath(), logger)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	if err := store.SaveRegistration(ctx, &state.Registration{
		ServerURL:   serverURL,
		AuthToken:   result.Token,
		MachineName: result.Machine.Name,
		UpdatedAt:   time.Now(),
	}); err != nil {
		return fmt.Errorf("caching registration: %w", err)
	}

	statusf(flagQuiet, "Registered as %q (machine id %d). Wrote %s\n", result.Machine.Name, result.Machine.ID, regPath)

	return nil
}
