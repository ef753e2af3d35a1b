// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Command kmring is the installable binary: go install github.com/toeirei/kmring/cmd/kmring@latest.
package main

import (
	"os"

	"github.com/toeirei/kmring/internal/logging"
	"github.com/toeirei/kmring/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}
