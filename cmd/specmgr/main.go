// Command specmgr runs the markdown document sync engine.
package main

import (
	"fmt"
	"os"

	"github.com/harun/specmgr/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
