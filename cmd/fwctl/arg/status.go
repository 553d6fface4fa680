package arg

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/SoarinFerret/FocusWarden/internal/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check if FocusWarden is running and show its counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := callDaemon("GetStatus")
		if err != nil {
			return err
		}
		var status ipc.Status
		if err := json.Unmarshal([]byte(result), &status); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		printStatus(cmd.OutOrStdout(), status, time.Now())
		return nil
	},
}

func printStatus(w io.Writer, s ipc.Status, now time.Time) {
	fmt.Fprintln(w, "FocusWarden Status: running")
	fmt.Fprintf(w, "Uptime: %s\n", formatDuration(now.Sub(s.StartedAt)))
	fmt.Fprintf(w, "Detector ready: %t\n", s.DetectorReady)
	fmt.Fprintf(w, "Active sessions: %d\n", s.ActiveSessions)
	fmt.Fprintf(w, "Blocked videos: %d\n", s.BlockedVideos)
	fmt.Fprintf(w, "Frames analyzed: %d (avg %.1f ms)\n", s.Metrics.FramesAnalyzed, s.Metrics.AvgDetectLatency)
	fmt.Fprintf(w, "Warnings: %d, blocks: %d\n", s.Metrics.Warnings, s.Metrics.Blocks)
	if s.Events != nil {
		fmt.Fprintf(w, "Event broker connected: %t (%d errors)\n", s.Events.Connected, s.Events.Errors)
	}
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
