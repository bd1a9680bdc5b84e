package main

import (
	"fmt"
	"os"

	"analyticsbridge/cmd"
)

func main() {
	// keep main tiny; cmd.Execute implements the CLI and server bootstrap
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "analytics-bridge: %+v\n", err)
		os.Exit(1)
	}
}
