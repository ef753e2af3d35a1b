// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for kmring.
//
// Usage:
//
//	go run . [command] [flags]
//	./kmring [command] [flags]
//
// See --help for the commands.
package main

import (
	"fmt"
	"os"

	"github.com/toeirei/kmring/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kmring: %v\n", err)
		os.Exit(1)
	}
}
