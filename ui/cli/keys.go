// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/i18n"
	"github.com/toeirei/kmring/internal/keyring"
	"github.com/toeirei/kmring/internal/model"
	"github.com/toeirei/kmring/util/slicest"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// writeClipboard is replaced in tests; CI machines have no clipboard.
var writeClipboard = clipboard.WriteAll

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

func keyRows(recs []*model.Record) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		props := r.Properties()
		rows = append(rows, []string{r.ID(), props["usage"], props["algorithm"], props["created"], r.Label()})
	}
	return rows
}

func printKeys(w io.Writer, recs []*model.Record) {
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(w, i18n.T("list.empty"))
		return
	}
	headers := []string{
		i18n.T("list.header.id"),
		i18n.T("list.header.usage"),
		i18n.T("list.header.algorithm"),
		i18n.T("list.header.created"),
		i18n.T("list.header.label"),
	}
	_, _ = fmt.Fprintln(w, renderTable(headers, keyRows(recs)))
}

func newListCmd(a *app) *cobra.Command {
	var secretOnly, orphans bool
	cmd := &cobra.Command{
		Use:   "list [pattern...]",
		Short: "List the keys of the keyring",
		Long: `Loads the keyring and prints its keys. Patterns restrict the listing to
keys whose id, fingerprint or user id matches.`,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			var patterns []string
			if len(args) > 0 {
				patterns = args
			}
			var err error
			if patterns == nil {
				err = a.ring.Load(cmd.Context())
			} else {
				err = a.ring.LoadFull(cmd.Context(), patterns, keyring.LoadDefault)
			}
			if stop, err := finish(cmd.ErrOrStderr(), err); stop {
				return err
			}

			kt := a.ring.Table()
			recs := kt.Records()
			if orphans {
				recs = kt.Orphans()
			} else if secretOnly {
				recs = slicest.Filter(recs, (*model.Record).HasSecret)
			}
			printKeys(cmd.OutOrStdout(), recs)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&secretOnly, "secret", false, "Only list keys with a secret half")
	cmd.Flags().BoolVar(&orphans, "orphans", false, "List secret halves without a public key")
	return cmd
}

// openInput opens a file or stdin ("-") and transparently decompresses zstd
// input.
func openInput(cmd *cobra.Command, name string) (io.Reader, func(), error) {
	var r io.Reader
	closer := func() {}
	if name == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(name)
		if err != nil {
			return nil, nil, err
		}
		r = f
		closer = func() { _ = f.Close() }
	}

	br := bufio.NewReader(r)
	if head, _ := br.Peek(len(zstdMagic)); bytes.Equal(head, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			closer()
			return nil, nil, fmt.Errorf("could not create zstd reader: %w", err)
		}
		prev := closer
		closer = func() { zr.Close(); prev() }
		return zr, closer, nil
	}
	return br, closer, nil
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Import keys into the keyring",
		Long:  `Imports keys from a file or stdin. zstd compressed input is detected automatically.`,
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			in, closeIn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeIn()

			recs, err := a.ring.Import(cmd.Context(), in)
			if stop, err := finish(cmd.ErrOrStderr(), err); stop {
				return err
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				_, _ = fmt.Fprintln(out, i18n.T("import.nothing"))
				return nil
			}
			_, _ = fmt.Fprintln(out, i18n.Plural("import.imported", len(recs)))
			for _, r := range recs {
				_, _ = fmt.Fprintf(out, "  %s %s\n", r.ID(), r.Label())
			}
			return nil
		}),
	}
}

// resolve loads the keyring and maps ids to records.
func resolve(cmd *cobra.Command, a *app, ids []string) ([]*model.Record, error) {
	if err := a.ring.Load(cmd.Context()); err != nil {
		return nil, err
	}
	return slicest.MapX(ids, func(id string) (*model.Record, error) {
		rec, ok := a.ring.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: no key %s", errdef.ErrPrecondition, id)
		}
		return rec, nil
	})
}

// nopWriteCloser finishes nothing.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newExportCmd(a *app) *cobra.Command {
	var output string
	var compress, toClipboard bool
	cmd := &cobra.Command{
		Use:   "export <id...>",
		Short: "Export public keys",
		Long: `Writes the armored public keys to stdout, a file or the clipboard. With
--zstd the output is compressed; compressed output is never written to a
terminal.`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if toClipboard && compress {
				return fmt.Errorf("--clipboard and --zstd can not be combined")
			}
			recs, err := resolve(cmd, a, args)
			if stop, err := finish(cmd.ErrOrStderr(), err); stop {
				return err
			}

			var sink io.Writer
			var clip bytes.Buffer
			dest := "stdout"
			switch {
			case toClipboard:
				sink = &clip
				dest = "clipboard"
			case output != "" && output != "-":
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				sink = f
				dest = output
			default:
				sink = cmd.OutOrStdout()
				if f, ok := sink.(*os.File); ok && compress && term.IsTerminal(int(f.Fd())) {
					return fmt.Errorf("%w: %s", errdef.ErrPrecondition, i18n.T("export.refuse_tty"))
				}
			}

			var w io.WriteCloser = nopWriteCloser{sink}
			if compress {
				zw, err := zstd.NewWriter(sink)
				if err != nil {
					return fmt.Errorf("could not create zstd writer: %w", err)
				}
				w = zw
			}

			items := slicest.Map(recs, func(r *model.Record) any { return r })
			_, err = a.ring.Export(cmd.Context(), items, w)
			if cerr := w.Close(); err == nil {
				err = cerr
			}
			if stop, err := finish(cmd.ErrOrStderr(), err); stop {
				return err
			}

			if toClipboard {
				if err := writeClipboard(clip.String()); err != nil {
					return fmt.Errorf("could not write clipboard: %w", err)
				}
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("export.clipboard", len(recs)))
				return nil
			}
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("export.written", len(recs), dest))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	cmd.Flags().BoolVar(&compress, "zstd", false, "Compress the output with zstd")
	cmd.Flags().BoolVar(&toClipboard, "clipboard", false, "Copy the output to the clipboard")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a key, including its secret half",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			recs, err := resolve(cmd, a, args)
			if stop, err := finish(cmd.ErrOrStderr(), err); stop {
				return err
			}
			if stop, err := finish(cmd.ErrOrStderr(), a.ring.Delete(cmd.Context(), recs[0])); stop {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), i18n.T("delete.done", strings.TrimSpace(recs[0].Label())))
			return nil
		}),
	}
}
