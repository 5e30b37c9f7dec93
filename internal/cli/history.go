package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <object> <environment>",
	Short: "Show the head-transition history, oldest first",
	Args:  cobra.ExactArgs(2),
	Run:   runHistory,
}

func runHistory(cmd *cobra.Command, args []string) {
	c := initClient()
	records, err := c.History(context.Background(), args[0], args[1])
	if err != nil {
		exitError("%v", err)
	}

	if len(records) == 0 {
		fmt.Println("No head transitions yet.")
		return
	}

	cyan := color.New(color.FgCyan)
	for _, rec := range records {
		at := time.UnixMilli(rec.Timestamp).UTC().Format(time.RFC3339)
		cyan.Printf("%d", rec.Timestamp)
		fmt.Printf("  %s  -> %s\n", at, rec.HeadVersion)
	}
}
