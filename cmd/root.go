// Package cmd implements the lowpansniff command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lowpansniff/internal/config"
	"lowpansniff/internal/log"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "lowpansniff",
	Short: "lowpansniff - 6LoWPAN sniffer decoder and topology viewer",
	Long: `lowpansniff reads the byte stream of an IEEE 802.15.4 sniffer, splits it into
frames, decodes the 802.15.4 / 6LoWPAN / ICMPv6 / RPL / CoAP layers and builds
the network topology from the observed traffic.

Sources:
  -                 standard input
  tcp://host:port   serial-to-TCP bridge
  <path>            serial device or raw capture file`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and LOWPANSNIFF_* environment when empty)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the configuration and installs the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := log.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
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
