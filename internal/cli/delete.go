package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete variants, versions, or whole objects",
}

var deleteVariantCmd = &cobra.Command{
	Use:   "variant <object> <environment> <version> <variant>",
	Short: "Delete one variant of a version",
	Args:  cobra.ExactArgs(4),
	Run:   runDeleteVariant,
}

var deleteVersionCmd = &cobra.Command{
	Use:   "version <object> <environment> <version>",
	Short: "Delete every variant of a version",
	Args:  cobra.ExactArgs(3),
	Run:   runDeleteVersion,
}

var deleteObjectCmd = &cobra.Command{
	Use:   "object <object> <environment>",
	Short: "Delete an object from an environment, including its history",
	Args:  cobra.ExactArgs(2),
	Run:   runDeleteObject,
}

func init() {
	deleteCmd.AddCommand(deleteVariantCmd)
	deleteCmd.AddCommand(deleteVersionCmd)
	deleteCmd.AddCommand(deleteObjectCmd)
}

func runDeleteVariant(cmd *cobra.Command, args []string) {
	c := initClient()
	if err := c.DeleteVariant(context.Background(), args[0], args[1], args[2], args[3]); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Deleted variant '%s' of %s@%s in '%s'\n", args[3], args[0], args[2], args[1])
}

func runDeleteVersion(cmd *cobra.Command, args []string) {
	c := initClient()
	if err := c.DeleteVersion(context.Background(), args[0], args[1], args[2]); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Deleted %s@%s in '%s'\n", args[0], args[2], args[1])
}

func runDeleteObject(cmd *cobra.Command, args []string) {
	c := initClient()
	if err := c.DeleteObject(context.Background(), args[0], args[1]); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Deleted '%s' from '%s'\n", args[0], args[1])
}
