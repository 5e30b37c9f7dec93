package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/oreg/internal/config"
)

var configureToken string

var configureCmd = &cobra.Command{
	Use:   "configure <server-url>",
	Short: "Write the client configuration file",
	Long: `Store the server URL and API token in the oreg config file.

Examples:
  oreg configure https://registry.example.com --token s3cret
  OREG_SERVER_URL and OREG_TOKEN override the file at runtime.`,
	Args: cobra.ExactArgs(1),
	Run:  runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureToken, "token", "", "API bearer token")
}

func runConfigure(cmd *cobra.Command, args []string) {
	cfg, err := config.Initialize(args[0], configureToken)
	if err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Configured server %s\n", cfg.ServerURL)
}
