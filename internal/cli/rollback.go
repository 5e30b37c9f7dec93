package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rollbackHops int

var rollbackCmd = &cobra.Command{
	Use:   "rollback <object> <environment>",
	Short: "Move the head back along the transition history",
	Long: `Re-promote the version the head pointed at N transitions ago. The rollback
itself is recorded as a new transition, so history is never rewritten.

Examples:
  oreg rollback search prod           # previous head
  oreg rollback search prod --hops 3`,
	Args: cobra.ExactArgs(2),
	Run:  runRollback,
}

func init() {
	rollbackCmd.Flags().IntVar(&rollbackHops, "hops", 1, "How many transitions to walk back")
}

func runRollback(cmd *cobra.Command, args []string) {
	if rollbackHops < 1 {
		exitError("--hops must be at least 1")
	}

	c := initClient()
	head, err := c.Rollback(context.Background(), args[0], args[1], rollbackHops)
	if err != nil {
		exitError("%v", err)
	}

	yellow := color.New(color.FgYellow)
	yellow.Printf("Rolled back '%s' in '%s'", args[0], args[1])
	fmt.Printf(" to %s\n", deref(head.HeadVersion))
}
