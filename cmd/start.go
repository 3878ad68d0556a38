package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/vswitch/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the switch daemon",
	Long: `Start vswitchd in the foreground.

Examples:
  vswitchd start                          # start with the default config path
  vswitchd start -c /etc/vswitch/dev.yml  # start with a specific config`,
	Run: func(cmd *cobra.Command, args []string) {
		d, err := daemon.New(configFile, pidFile)
		if err != nil {
			exitWithError("failed to create daemon", err)
		}
		if err := d.Start(); err != nil {
			exitWithError("failed to start daemon", err)
		}
		if err := d.Run(); err != nil {
			exitWithError("daemon exited with error", err)
		}
	},
}
