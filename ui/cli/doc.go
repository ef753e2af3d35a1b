// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cli implements the kmring command line. Every command works on a
// keyring bound to the configured backend directory and records its outcome
// in the operation journal.
package cli
