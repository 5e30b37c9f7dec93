package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var promoteExpect int64

var promoteCmd = &cobra.Command{
	Use:   "promote <object> <environment> <version>",
	Short: "Move the environment head to a version",
	Long: `Point the environment head at a version. The update is a compare-and-swap
against the head observed just before the call; a concurrent promotion makes
it fail rather than silently overwrite.

Examples:
  oreg promote search prod 1.4.0
  oreg promote search prod 1.4.0 --expect 1726000000000`,
	Args: cobra.ExactArgs(3),
	Run:  runPromote,
}

func init() {
	promoteCmd.Flags().Int64Var(&promoteExpect, "expect", 0, "Require this head timestamp (skip the read before the swap)")
}

func runPromote(cmd *cobra.Command, args []string) {
	c := initClient()
	ctx := context.Background()
	name, env, ver := args[0], args[1], args[2]

	var prev *int64
	if promoteExpect != 0 {
		prev = &promoteExpect
	} else {
		head, err := c.GetHead(ctx, name, env)
		if err != nil {
			exitError("%v", err)
		}
		prev = head.HeadTimestamp
	}

	ts, err := c.SetHead(ctx, name, env, ver, prev)
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Promoted %s@%s in '%s'", name, ver, env)
	fmt.Printf(" (head timestamp %d)\n", ts)
}
