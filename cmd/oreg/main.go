// Command oreg is the object registry CLI.
package main

import (
	"os"

	"github.com/kilupskalvis/oreg/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
