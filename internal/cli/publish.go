package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/oreg/internal/remote"
)

var (
	publishVariant   string
	publishData      string
	publishFile      string
	publishExpires   time.Duration
	publishCreateEnv bool
)

var publishCmd = &cobra.Command{
	Use:   "publish <object> <environment> <version>",
	Short: "Publish a variant payload for an object version",
	Long: `Upload one variant of an object version. Payloads are JSON, read either
from --data or from a file. Without --variant the default variant is written.

Examples:
  oreg publish search prod 1.4.0 --data '{"fields":["title"]}'
  oreg publish search prod 1.4.0 --variant compact --file compact.json
  oreg publish search staging 1.4.0 --data '{}' --create-env
  oreg publish search dev 0.1.0 --data '{}' --expires 24h`,
	Args: cobra.ExactArgs(3),
	Run:  runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishVariant, "variant", "", "Variant name (default variant if empty)")
	publishCmd.Flags().StringVar(&publishData, "data", "", "Inline JSON payload")
	publishCmd.Flags().StringVar(&publishFile, "file", "", "Read the JSON payload from a file")
	publishCmd.Flags().DurationVar(&publishExpires, "expires", 0, "Expire the variant after this duration")
	publishCmd.Flags().BoolVar(&publishCreateEnv, "create-env", false, "Create the environment if it does not exist")
}

func runPublish(cmd *cobra.Command, args []string) {
	payload, err := readPayload()
	if err != nil {
		exitError("%v", err)
	}

	req := &remote.PublishRequest{
		Data:           payload,
		ForceCreateEnv: publishCreateEnv,
	}
	if publishExpires > 0 {
		t := time.Now().UTC().Add(publishExpires)
		req.Expiration = &t
	}

	c := initClient()
	v, err := c.Publish(context.Background(), args[0], args[1], args[2], publishVariant, req)
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Published %s@%s", args[0], v.Version)
	fmt.Printf(" variant '%s' in '%s'\n", v.Variant, v.Env)
}

func readPayload() (json.RawMessage, error) {
	var data []byte
	switch {
	case publishData != "" && publishFile != "":
		return nil, fmt.Errorf("--data and --file are mutually exclusive")
	case publishData != "":
		data = []byte(publishData)
	case publishFile != "":
		var err error
		data, err = os.ReadFile(publishFile)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	default:
		return nil, fmt.Errorf("one of --data or --file is required")
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}
