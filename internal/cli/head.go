package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var headCmd = &cobra.Command{
	Use:   "head <object> <environment>",
	Short: "Show the head and latest version of one environment",
	Args:  cobra.ExactArgs(2),
	Run:   runHead,
}

var headsCmd = &cobra.Command{
	Use:   "heads <object>",
	Short: "Show head pointers across every environment of an object",
	Args:  cobra.ExactArgs(1),
	Run:   runHeads,
}

func runHead(cmd *cobra.Command, args []string) {
	c := initClient()
	head, err := c.GetHead(context.Background(), args[0], args[1])
	if err != nil {
		exitError("%v", err)
	}

	fmt.Printf("head:   %s\n", deref(head.HeadVersion))
	fmt.Printf("latest: %s\n", deref(head.LatestVersion))
}

func runHeads(cmd *cobra.Command, args []string) {
	c := initClient()
	heads, err := c.GetHeads(context.Background(), args[0])
	if err != nil {
		exitError("%v", err)
	}

	if len(heads) == 0 {
		fmt.Println("No environments yet.")
		return
	}

	bold := color.New(color.Bold)
	for _, h := range heads {
		bold.Printf("%-16s", h.Env)
		fmt.Printf(" head=%s latest=%s\n", deref(h.HeadVersion), deref(h.LatestVersion))
	}
}
