package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var versionsCmd = &cobra.Command{
	Use:   "versions <object> <environment>",
	Short: "List versions of an object, oldest first",
	Args:  cobra.ExactArgs(2),
	Run:   runVersions,
}

func runVersions(cmd *cobra.Command, args []string) {
	c := initClient()
	versions, err := c.ListVersions(context.Background(), args[0], args[1])
	if err != nil {
		exitError("%v", err)
	}

	if len(versions) == 0 {
		fmt.Println("No versions yet.")
		return
	}
	for _, v := range versions {
		fmt.Println(v)
	}
}
