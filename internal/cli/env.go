package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Manage object environments and aliases",
}

var envCreateCmd = &cobra.Command{
	Use:   "create <object> <environment>",
	Short: "Create an environment for an object",
	Args:  cobra.ExactArgs(2),
	Run:   runEnvCreate,
}

var envAliasCmd = &cobra.Command{
	Use:   "alias <object> <alias> <environment>",
	Short: "Register an alias for an existing environment",
	Long: `Register an alternate name that resolves to a canonical environment.

Examples:
  oreg env alias search prod production
  oreg env alias search live prod       # chains to 'production'`,
	Args: cobra.ExactArgs(3),
	Run:  runEnvAlias,
}

var envListCmd = &cobra.Command{
	Use:   "list <object>",
	Short: "List environments of an object",
	Args:  cobra.ExactArgs(1),
	Run:   runEnvList,
}

func init() {
	envCmd.AddCommand(envCreateCmd)
	envCmd.AddCommand(envAliasCmd)
	envCmd.AddCommand(envListCmd)
}

func runEnvCreate(cmd *cobra.Command, args []string) {
	c := initClient()
	if err := c.CreateEnvironment(context.Background(), args[0], args[1]); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Created environment '%s' for '%s'\n", args[1], args[0])
}

func runEnvAlias(cmd *cobra.Command, args []string) {
	c := initClient()
	if err := c.CreateAlias(context.Background(), args[0], args[1], args[2]); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Alias '%s' -> '%s'\n", args[1], args[2])
}

func runEnvList(cmd *cobra.Command, args []string) {
	c := initClient()
	envs, err := c.ListEnvironments(context.Background(), args[0])
	if err != nil {
		exitError("%v", err)
	}

	if len(envs) == 0 {
		fmt.Println("No environments yet.")
		return
	}

	bold := color.New(color.Bold)
	for _, env := range envs {
		bold.Printf("%s", env.Env)
		var aliases []string
		for _, a := range env.Aliases {
			if a != env.Env {
				aliases = append(aliases, a)
			}
		}
		if len(aliases) > 0 {
			fmt.Printf("  (aliases: %s)", strings.Join(aliases, ", "))
		}
		fmt.Println()
	}
}
