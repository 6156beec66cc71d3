package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/syncagent/engine/internal/conflict"
	"github.com/syncagent/engine/internal/config"
	"github.com/syncagent/engine/internal/coordinator"
	"github.com/syncagent/engine/internal/credstore"
	"github.com/syncagent/engine/internal/eventqueue"
	"github.com/syncagent/engine/internal/ignore"
	"github.com/syncagent/engine/internal/remote"
	"github.com/syncagent/engine/internal/retry"
	"github.com/syncagent/engine/internal/state"
	"github.com/syncagent/engine/internal/tracker"
	"github.com/syncagent/engine/internal/transfer"
	"github.com/syncagent/engine/internal/watcher"
	"github.com/syncagent/engine/internal/worker"
)

// rig bundles every collaborator a running engine needs, built once by
// buildRig and shared between the `sync` and `watch` commands.
type rig struct {
	reg      *config.Registration
	settings *config.Settings
	store    *state.Store
	client   *remote.Client
	ignore   *ignore.Matcher
	coord    *coordinator.Coordinator
	queue    *eventqueue.Queue
	tracker  *tracker.Tracker
	logger   *slog.Logger
}

// buildRig loads the registration and data key, opens the state store, and
// wires every collaborator the coordinator needs (spec §5 "Ownership").
// password may be nil, in which case it is prompted for interactively
// (falling back to SYNCENGINE_PASSWORD for unattended daemons).
func buildRig(ctx context.Context, cc *CLIContext, password []byte) (*rig, func(), error) {
	reg, err := config.LoadRegistration(config.DefaultRegistrationPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load registration (run `syncengine register` first): %w", err)
	}

	if cc.Settings.ServerURLOverride != "" {
		reg.ServerURL = cc.Settings.ServerURLOverride
	}

	if password == nil {
		password, err = promptPassword("Data key password: ")
		if err != nil {
			return nil, nil, err
		}
	}

	keyStore := credstore.New(config.DefaultKeyFilePath(), credstore.NoopVault{})

	dataKey, err := keyStore.Load(password)
	if err != nil {
		return nil, nil, fmt.Errorf("unlocking data key: %w", err)
	}

	store, err := state.Open(ctx, config.DefaultStatePath(), cc.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening state store: %w", err)
	}

	cleanup := func() { store.Close() }

	client := remote.NewClient(reg.ServerURL, reg.AuthToken, nil, cc.Logger)

	matcher, err := ignore.New(cc.Settings.Sync.SyncRoot)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("loading ignore patterns: %w", err)
	}

	obs := retry.Observer{
		OnWaiting:  func() { statusf(flagQuiet, "Connection to relay server lost, waiting for it to come back...\n") },
		OnRestored: func() { statusf(flagQuiet, "Connection restored.\n") },
	}

	uploader := transfer.NewUploader(client, store, dataKey, client, obs)
	downloader := transfer.NewDownloader(client, dataKey, client, obs)
	resolver := conflict.NewResolver(downloader, store, reg.MachineName)

	coalesceWindow, quietDelay := parseWatcherDurations(cc.Settings)

	fsWatcher := watcher.New(cc.Settings.Sync.SyncRoot, matcher, coalesceWindow, quietDelay, cc.Logger)

	wsURL, err := httpToWS(reg.ServerURL, reg.AuthToken)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	listener := remote.NewListener(listenerConfigFromSettings(cc.Settings, wsURL), client, store, cc.Logger)

	queue := eventqueue.New()
	trk := tracker.New()
	pool := worker.New(cc.Settings.Workers.PoolSize, cc.Logger)

	coord := coordinator.New(coordinator.Config{
		SyncRoot:    cc.Settings.Sync.SyncRoot,
		MachineName: reg.MachineName,
		Watcher:     fsWatcher,
		Listener:    listener,
		Queue:       queue,
		Tracker:     trk,
		Pool:        pool,
		Store:       store,
		Client:      client,
		Uploader:    uploader,
		Downloader:  downloader,
		Resolver:    resolver,
		Logger:      cc.Logger,
	})

	return &rig{
		reg:      reg,
		settings: cc.Settings,
		store:    store,
		client:   client,
		ignore:   matcher,
		coord:    coord,
		queue:    queue,
		tracker:  trk,
		logger:   cc.Logger,
	}, cleanup, nil
}

func parseWatcherDurations(settings *config.Settings) (time.Duration, time.Duration) {
	coalesce, err := time.ParseDuration(settings.Watcher.CoalesceWindow)
	if err != nil {
		coalesce = 250 * time.Millisecond
	}

	quiet, err := time.ParseDuration(settings.Watcher.QuietDelay)
	if err != nil {
		quiet = 3 * time.Second
	}

	return coalesce, quiet
}

// listenerConfigFromSettings applies the network-timeout overrides from
// Settings on top of the spec-mandated defaults.
func listenerConfigFromSettings(settings *config.Settings, wsURL string) remote.ListenerConfig {
	cfg := remote.DefaultListenerConfig(wsURL)

	if d, err := time.ParseDuration(settings.Network.PushOpenTimeout); err == nil {
		cfg.OpenTimeout = d
	}

	if d, err := time.ParseDuration(settings.Network.PushMessageQuietLimit); err == nil {
		cfg.MessageQuietLimit = d
	}

	return cfg
}

// httpToWS derives the push-channel websocket URL from the server's HTTP(S)
// base URL, following the wire protocol's ws(s)://.../ws/client/<token> path
// (spec §6 "Push channel").
func httpToWS(serverURL, token string) (string, error) {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://") + "/ws/client/" + token, nil
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://") + "/ws/client/" + token, nil
	default:
		return "", fmt.Errorf("server URL %q has no http(s) scheme", serverURL)
	}
}
