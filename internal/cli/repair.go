package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{
	Use:   "repair <object>",
	Short: "Sweep an object's environments for dangling head pointers",
	Long: `Run the server-side consistency check over every environment of an object.
Head and latest pointers referring to deleted versions are cleared or moved.
Requires a token with admin access.`,
	Args: cobra.ExactArgs(1),
	Run:  runRepair,
}

func runRepair(cmd *cobra.Command, args []string) {
	c := initClient()
	resp, err := c.Audit(context.Background(), args[0])
	if err != nil {
		exitError("%v", err)
	}

	yellow := color.New(color.FgYellow)
	for _, res := range resp.Results {
		if res.Repaired {
			yellow.Printf("%-16s repaired\n", res.Environment)
		} else {
			fmt.Printf("%-16s ok\n", res.Environment)
		}
	}
}
