// Package cli implements the command-line interface for oreg.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/oreg/internal/config"
	"github.com/kilupskalvis/oreg/internal/remote"
)

// initClient loads the configuration and builds the retrying registry client.
func initClient() remote.RegistryClient {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}
	return remote.NewRetryClient(remote.NewHTTPClient(cfg.ServerURL, cfg.Token), nil)
}

var rootCmd = &cobra.Command{
	Use:   "oreg",
	Short: "Object registry client",
	Long: `oreg is the client for an object registry server: versioned, environment-scoped
objects with promotable head pointers. Publish versions, promote them between
environments, and roll back along the recorded transition history.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(envCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(headCmd)
	rootCmd.AddCommand(headsCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(repairCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// deref formats an optional version for display.
func deref(v *string) string {
	if v == nil {
		return "(none)"
	}
	return *v
}
