package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/vswitch/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Load and validate the configuration file without starting the daemon.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("invalid configuration", err)
		}
		fmt.Printf("Configuration OK: switch %q with %d port(s)\n",
			cfg.Switch.Name, len(cfg.Ports))
	},
}
