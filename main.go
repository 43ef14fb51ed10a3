// Command modsync is a terminal client for the post moderation server.
package main

import (
	"os"

	"github.com/ibeckermayer/modsync/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
