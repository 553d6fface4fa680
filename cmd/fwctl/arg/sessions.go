package arg

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/SoarinFerret/FocusWarden/internal/engine"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"s"},
	Short:   "List live player sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := callDaemon("ListSessions")
		if err != nil {
			return err
		}
		var sessions []engine.SessionInfo
		if err := json.Unmarshal([]byte(result), &sessions); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		printSessions(cmd.OutOrStdout(), sessions)
		return nil
	},
}

func printSessions(w io.Writer, sessions []engine.SessionInfo) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No active sessions")
		return
	}
	for _, s := range sessions {
		st := s.Status
		fmt.Fprintf(w, "%s  video=%s  state=%s  attention=%d  alerts=%d/%d",
			s.ID, s.VideoID, st.State, st.AttentionLevel, st.AlertCount, st.MaxAlerts)
		if st.InattentionReason != "" {
			fmt.Fprintf(w, "  reason=%q", st.InattentionReason)
		}
		if st.BlockRemainingMS > 0 {
			fmt.Fprintf(w, "  blocked for %s", formatDuration(st.BlockRemaining()))
		}
		if st.VerificationUnavailable {
			fmt.Fprint(w, "  (verification unavailable)")
		}
		fmt.Fprintln(w)
	}
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
