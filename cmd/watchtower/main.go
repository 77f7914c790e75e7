// Command watchtower monitors regulatory document sources for changes and
// publishes extracted versions downstream.
package main

import (
	"os"

	"github.com/watchtower-labs/watchtower/internal/adapters/driving/cli"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
