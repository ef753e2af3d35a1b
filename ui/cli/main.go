// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/toeirei/kmring/buildvars"
	"github.com/toeirei/kmring/internal/backend"
	"github.com/toeirei/kmring/internal/backend/pgpdir"
	"github.com/toeirei/kmring/internal/backend/sshdir"
	"github.com/toeirei/kmring/internal/config"
	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/i18n"
	"github.com/toeirei/kmring/internal/journal"
	"github.com/toeirei/kmring/internal/keyring"
	"github.com/toeirei/kmring/internal/logging"
	"github.com/toeirei/kmring/internal/progress"
)

var version = "dev"   // this will be set by the linker
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)

// app holds what PersistentPreRunE sets up for the subcommands.
type app struct {
	cfgFile string
	verbose bool

	cfg     config.Config
	journal journal.Journal
	ring    *keyring.Keyring
}

// openJournal is replaced in tests.
var openJournal = journal.Open

// setup loads the configuration and opens the journal and keyring.
func (a *app) setup(cmd *cobra.Command) error {
	configPath, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}
	a.cfg, err = config.Load(cmd, configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logging.SetOutput(cmd.ErrOrStderr())
	if err := logging.SetLevel(a.cfg.Log.Level); err != nil {
		logging.Warnf("%v", err)
	}
	if a.verbose {
		logging.SetDebug(true)
	}
	i18n.Init(a.cfg.Language)

	dsn, err := a.cfg.JournalDSN()
	if err != nil {
		return err
	}
	a.journal, err = openJournal(cmd.Context(), a.cfg.Journal.Type, dsn)
	if err != nil {
		return err
	}

	home, err := a.cfg.HomeDir()
	if err != nil {
		return err
	}
	var b backend.Backend
	switch a.cfg.Keyring.Backend {
	case "ssh":
		b = sshdir.New(home)
	default:
		b = pgpdir.New(home)
	}
	logging.Debugf("using %s backend in %s", b.Kind(), home)

	a.ring = keyring.New(b,
		keyring.WithJournal(a.journal),
		keyring.WithBatchSize(a.cfg.Keyring.BatchSize),
		keyring.WithRefreshDelay(a.cfg.Refresh.Debounce),
		keyring.WithProgress(progress.Log{}),
	)
	return nil
}

// run wraps a subcommand so the keyring and journal are released however it
// ends. Cobra skips post-run hooks after a failed RunE.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer a.teardown()
		return fn(cmd, args)
	}
}

func (a *app) teardown() {
	if a.ring != nil {
		_ = a.ring.Close()
		a.ring = nil
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logging.Warnf("closing journal: %v", err)
		}
		a.journal = nil
	}
}

// Execute runs the CLI entrypoint. Interrupts cancel the running operation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// NewRootCmd creates a fresh root command with all subcommands. Tests create
// one per case.
func NewRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "kmring",
		Short: "kmring keeps PGP and SSH key directories in view.",
		Long: `kmring lists, imports, exports and deletes the keys of a PGP keyring
directory or an OpenSSH key directory. Every operation is recorded in a
journal, and "kmring watch" follows the directory as it changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipSetup"] == "true" {
				return nil
			}
			if err := a.setup(cmd); err != nil {
				// RunE and its teardown are skipped after a failed pre-run.
				a.teardown()
				return err
			}
			return nil
		},
	}

	v, c, d := resolveBuildVersion(nil)
	cmd.Version = compositeVersion(v, c, d)

	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file")
	cmd.PersistentFlags().String("backend", "pgp", `Keyring backend ("pgp", "ssh")`)
	cmd.PersistentFlags().String("homedir", "", "Key directory (defaults depend on the backend)")
	cmd.PersistentFlags().Int("batch-size", 50, "Keys merged per listing batch")
	cmd.PersistentFlags().String("journal", "sqlite", `Journal database ("sqlite", "postgres", "mysql", "none")`)
	cmd.PersistentFlags().String("journal-dsn", "", "Journal connection string")
	cmd.PersistentFlags().String("lang", "en", `Message language ("en", "de")`)
	cmd.PersistentFlags().String("log-level", "info", "Log level")

	versionCmd := &cobra.Command{
		Use:         "version",
		Short:       "Print version",
		Annotations: map[string]string{"skipSetup": "true"},
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "version: %s\n", v)
			_, _ = fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				_, _ = fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}

	cmd.AddCommand(
		newListCmd(a),
		newImportCmd(a),
		newExportCmd(a),
		newDeleteCmd(a),
		newWatchCmd(a),
		newHistoryCmd(a),
		newConfigCmd(),
		versionCmd,
	)
	return cmd
}

func compositeVersion(v, c, d string) string {
	out := v
	if c != "" && c != "dev" {
		out += " (" + c + ")"
	}
	if d != "" {
		out += " built: " + d
	}
	return out
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If info is nil, it reads build info from the
// runtime.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := buildvars.VersionOrDefault(version)
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	if info == nil {
		info, _ = debug.ReadBuildInfo()
	}
	if info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	if resolvedVersion == "dev" && gitCommit != "dev" && gitCommit != "" {
		resolvedVersion = gitCommit
	}
	return resolvedVersion, resolvedCommit, resolvedDate
}

// finish reports whether a command must stop after an operation ended with
// err, and what it returns. A cancelled operation prints a notice and exits
// cleanly.
func finish(w io.Writer, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if errors.Is(err, errdef.ErrCancelled) {
		_, _ = fmt.Fprintln(w, i18n.T("op.cancelled"))
		return true, nil
	}
	return true, err
}
