package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	getVariant string
	getAll     bool
	getNames   []string
)

var getCmd = &cobra.Command{
	Use:   "get <object> <environment> <version>",
	Short: "Fetch variant payloads of an object version",
	Long: `Print variant payloads as JSON. Without flags the default variant is
fetched; --variant selects one, --names several, --all every live variant.

Examples:
  oreg get search prod 1.4.0
  oreg get search prod 1.4.0 --variant compact
  oreg get search prod 1.4.0 --names compact,full
  oreg get search prod 1.4.0 --all`,
	Args: cobra.ExactArgs(3),
	Run:  runGet,
}

func init() {
	getCmd.Flags().StringVar(&getVariant, "variant", "", "Variant name")
	getCmd.Flags().BoolVar(&getAll, "all", false, "Fetch every live variant")
	getCmd.Flags().StringSliceVar(&getNames, "names", nil, "Fetch the named variants")
}

func runGet(cmd *cobra.Command, args []string) {
	c := initClient()
	ctx := context.Background()
	name, env, ver := args[0], args[1], args[2]

	switch {
	case getAll || len(getNames) > 0:
		vs, err := c.GetVariants(ctx, name, env, ver, getNames)
		if err != nil {
			exitError("%v", err)
		}
		for _, v := range vs {
			fmt.Printf("%s\t%s\n", v.Variant, strings.TrimSpace(string(v.Data)))
		}
	default:
		v, err := c.GetVariant(ctx, name, env, ver, getVariant)
		if err != nil {
			exitError("%v", err)
		}
		fmt.Println(strings.TrimSpace(string(v.Data)))
	}
}
