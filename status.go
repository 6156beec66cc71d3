package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syncagent/engine/internal/config"
	"github.com/syncagent/engine/internal/state"
)

// newStatusCmd reports a snapshot of tracked files and the daemon's running
// state, reading the state store directly rather than talking to a running
// `watch` process (there is no IPC surface in this spec beyond the PID file).
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tracked files and whether the watch daemon is running",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context())
		},
	}
}

type statusJSON struct {
	DaemonRunning bool           `json:"daemon_running"`
	DaemonPID     int            `json:"daemon_pid,omitempty"`
	Files         []fileStatus   `json:"files"`
	Totals        statusJSONSize `json:"totals"`
}

type statusJSONSize struct {
	Count int   `json:"count"`
	Bytes int64 `json:"bytes"`
}

type fileStatus struct {
	Path          string `json:"path"`
	Size          int64  `json:"size"`
	ServerVersion int64  `json:"server_version"`
	UpdatedAt     string `json:"updated_at"`
}

func runStatus(ctx context.Context) error {
	cc := mustCLIContext(ctx)

	pid, running := daemonStatus()

	store, err := state.Open(ctx, config.DefaultStatePath(), cc.Logger)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	records, err := store.ListFileRecords(ctx)
	if err != nil {
		return fmt.Errorf("listing tracked files: %w", err)
	}

	if flagJSON {
		return printStatusJSON(pid, running, records)
	}

	printStatusText(pid, running, records)

	return nil
}

func daemonStatus() (int, bool) {
	pidPath := filepath.Join(config.DefaultConfigDir(), "watch.pid")

	pid, err := readPIDFile(pidPath)
	if err != nil {
		return 0, false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return pid, false
	}

	return pid, true
}

func printStatusText(pid int, running bool, records []*state.FileRecord) {
	if running {
		statusf(flagQuiet, "watch daemon: running (pid %d)\n", pid)
	} else {
		statusf(flagQuiet, "watch daemon: not running\n")
	}

	if len(records) == 0 {
		statusf(flagQuiet, "No files tracked yet.\n")
		return
	}

	headers := []string{"PATH", "SIZE", "VERSION", "UPDATED"}
	rows := make([][]string, 0, len(records))

	var totalBytes int64

	for _, rec := range records {
		rows = append(rows, []string{
			rec.Path,
			formatSize(rec.Size),
			fmt.Sprintf("%d", rec.ServerVersion),
			formatTime(rec.UpdatedAt),
		})
		totalBytes += rec.Size
	}

	printTable(os.Stdout, headers, rows)
	statusf(flagQuiet, "\n%d file(s), %s total\n", len(records), formatSize(totalBytes))
}

func printStatusJSON(pid int, running bool, records []*state.FileRecord) error {
	out := statusJSON{
		DaemonRunning: running,
		DaemonPID:     pid,
		Files:         make([]fileStatus, 0, len(records)),
	}

	for _, rec := range records {
		out.Files = append(out.Files, fileStatus{
			Path:          rec.Path,
			Size:          rec.Size,
			ServerVersion: rec.ServerVersion,
			UpdatedAt:     rec.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
		out.Totals.Count++
		out.Totals.Bytes += rec.Size
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}
