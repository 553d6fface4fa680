package arg

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var sessionBus bool

var rootCmd = &cobra.Command{
	Use:   "fwctl",
	Short: "fwctl is the command line tool for FocusWarden",
	Long: `fwctl queries a running focuswardend over D-Bus and replays landmark
recordings through the attention analyzer offline.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&sessionBus, "session-bus", false, "Talk to a daemon on the session bus instead of the system bus")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
