package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lowpansniff/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or validate configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the effective configuration: built-in defaults, overlaid with the
file given by --config and LOWPANSNIFF_* environment variables.

Examples:
  lowpansniff config show > lowpansniff.yaml
  LOWPANSNIFF_SERVER_LISTEN=:9090 lowpansniff config show`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		out, err := cfg.Marshal()
		if err != nil {
			exitWithError("failed to render config", err)
		}
		os.Stdout.Write(out)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a configuration file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := config.Load(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("VALID: %s\n", args[0])
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}
