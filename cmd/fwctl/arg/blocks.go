package arg

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/SoarinFerret/FocusWarden/internal/ipc"
)

var blocksCmd = &cobra.Command{
	Use:     "blocks [videoId]",
	Aliases: []string{"b"},
	Short:   "List blocked videos, or show the block of one video",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var infos []ipc.BlockInfo
		if len(args) == 1 {
			result, err := callDaemon("GetBlock", args[0])
			if err != nil {
				return err
			}
			var info ipc.BlockInfo
			if err := json.Unmarshal([]byte(result), &info); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			infos = append(infos, info)
		} else {
			result, err := callDaemon("ListBlocks")
			if err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(result), &infos); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
		}
		printBlocks(cmd.OutOrStdout(), infos)
		return nil
	},
}

func printBlocks(w io.Writer, infos []ipc.BlockInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No blocked videos")
		return
	}
	for _, b := range infos {
		ends := time.UnixMilli(b.EndTime).Format(time.RFC3339)
		if b.Expired {
			fmt.Fprintf(w, "%s  expired at %s  (%s)\n", b.VideoID, ends, b.Reason)
			continue
		}
		remaining := time.Duration(b.RemainingMS) * time.Millisecond
		fmt.Fprintf(w, "%s  %s remaining, until %s  (%s)\n", b.VideoID, formatDuration(remaining), ends, b.Reason)
	}
}

func init() {
	rootCmd.AddCommand(blocksCmd)
}
