// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLint(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, localesDir, "en.yaml"), "a.used: \"A\"\nb.plural:\n  one: \"one\"\n  other: \"many\"\nc.orphan: \"C\"\nd.indirect: \"D\"\n")
	writeFile(t, filepath.Join(root, localesDir, "de.yaml"), "a.used: \"A\"\nb.plural:\n  other: \"viele\"\n")
	writeFile(t, filepath.Join(root, "pkg", "a.go"), `package pkg
func f(n int) {
	_ = i18n.T("a.used")
	_ = i18n.Plural("b.plural", n)
	_ = i18n.T("x.missing")
	msg := "d.indirect"
	_ = i18n.T(msg)
}`)
	writeFile(t, filepath.Join(root, "pkg", "a_test.go"), `package pkg
var _ = i18n.T("c.orphan")`)

	report, err := lint(root)
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	want := Report{
		Missing:      []string{"x.missing"},
		Orphaned:     []string{"c.orphan"},
		Untranslated: map[string][]string{"de.yaml": {"c.orphan", "d.indirect"}},
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	if !report.Failed() {
		t.Fatalf("missing ids must fail the run")
	}
}

func TestRepositoryLocalesAreConsistent(t *testing.T) {
	report, err := lint(filepath.Join("..", ".."))
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if report.Failed() {
		t.Fatalf("locale problems: missing %v, untranslated %v", report.Missing, report.Untranslated)
	}
}
