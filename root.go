package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/syncagent/engine/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagSyncRoot   string
	flagServerURL  string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that handle config loading themselves
// (init, which may run before engine.toml exists).
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles resolved settings and logger. Created once in
// PersistentPreRunE; commands read it from the command's context instead of
// re-resolving configuration in every RunE handler.
type CLIContext struct {
	Settings *config.Settings
	Logger   *slog.Logger
}

type cliContextKey struct{}

// cliContextFrom extracts the CLIContext from the command's context. Returns
// nil if no settings were loaded (commands annotated with skipConfigAnnotation).
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable
// message. Panics here are always programmer errors — the command tree
// guarantees the context is populated before RunE runs.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — command must not carry skipConfigAnnotation")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "syncengine",
		Short:   "Zero-knowledge end-to-end encrypted file sync",
		Long:    "A client for the zero-knowledge encrypted file sync engine: chunked, encrypted, conflict-aware sync between this machine and a relay server that never sees plaintext.",
		Version: version,
		// Silence Cobra's default error/usage printing — handled in main().
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Cobra passes the leaf command here, so a group's annotation
			// (e.g. "key") must be checked on the parent as well.
			if cmd.Annotations[skipConfigAnnotation] == "true" ||
				(cmd.HasParent() && cmd.Parent().Annotations[skipConfigAnnotation] == "true") {
				return nil
			}

			return loadSettings(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "settings file path (default: <config dir>/engine.toml)")
	cmd.PersistentFlags().StringVar(&flagSyncRoot, "sync-root", "", "local sync directory")
	cmd.PersistentFlags().StringVar(&flagServerURL, "server-url", "", "relay server base URL")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newRegisterCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// loadSettings resolves the effective settings from the four-layer override
// chain and stores the result in the command's context for use by subcommands.
func loadSettings(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	cli := config.CLIOverrides{
		SettingsPath: flagConfigPath,
		SyncRoot:     flagSyncRoot,
		ServerURL:    flagServerURL,
	}

	env := config.ReadEnvOverrides()

	logger.Debug("resolving settings",
		slog.String("config_path", cli.SettingsPath),
		slog.String("cli_sync_root", cli.SyncRoot),
		slog.String("env_config", env.SettingsPath),
	)

	settings, err := config.Resolve(env, cli, logger)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	finalLogger := buildLogger(settings)
	cc := &CLIContext{Settings: settings, Logger: finalLogger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved settings and
// CLI flags. Pass nil for pre-settings bootstrap. Settings-based log level
// provides the baseline; --verbose, --debug, and --quiet override it because
// CLI flags always win (mutually exclusive, enforced by Cobra).
func buildLogger(settings *config.Settings) *slog.Logger {
	level := slog.LevelWarn

	if settings != nil {
		switch settings.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
