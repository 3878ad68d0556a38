// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	pidFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vswitchd",
	Short: "vswitchd - software switch datapath daemon",
	Long: `vswitchd runs a software switch datapath: it attaches the configured
virtual ports (host interfaces or internal loopback devices), moves
packets between them and the switch pipeline, fragments oversize IPv4
transmits against the egress MTU, and exports per-port statistics.

Features:
  - Port backends: device-backed (AF_PACKET) and internal
  - MTU-aware outbound IPv4 fragmentation with VLAN tag handling
  - Lock-free port lookup concurrent with port management
  - Per-port traffic and error statistics over Prometheus`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/vswitch/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&pidFile, "pid-file", "p", "/var/run/vswitchd.pid",
		"PID file path")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(validateCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
