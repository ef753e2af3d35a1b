// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter checks that every message id used by the code exists in the
// English locale, that every other locale translates all English ids, and
// lists English ids no code refers to.
//
// Run it from the repository root: go run ./tools/i18n-linter
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	localesDir    = "internal/i18n/locales"
	primaryLocale = "en.yaml"
)

// Report is the outcome of a lint run. Keys are sorted.
type Report struct {
	// Missing ids are used in code but absent from the primary locale.
	Missing []string
	// Orphaned ids are in the primary locale but never referenced.
	Orphaned []string
	// Untranslated maps a locale file to the primary ids it lacks.
	Untranslated map[string][]string
}

// Failed reports whether the run found problems that break the build.
func (r Report) Failed() bool {
	return len(r.Missing) > 0 || len(r.Untranslated) > 0
}

func main() {
	report, err := lint(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "i18n-linter: %v\n", err)
		os.Exit(1)
	}
	for _, key := range report.Missing {
		fmt.Printf("missing: %s\n", key)
	}
	for _, file := range sortedKeys(report.Untranslated) {
		for _, key := range report.Untranslated[file] {
			fmt.Printf("untranslated in %s: %s\n", file, key)
		}
	}
	for _, key := range report.Orphaned {
		fmt.Printf("orphaned: %s\n", key)
	}
	if report.Failed() {
		os.Exit(1)
	}
	fmt.Println("translation files are consistent")
}

// lint checks the repository rooted at root.
func lint(root string) (Report, error) {
	dir := filepath.Join(root, localesDir)
	primary, err := loadKeysFromLocale(filepath.Join(dir, primaryLocale))
	if err != nil {
		return Report{}, fmt.Errorf("load primary locale: %w", err)
	}
	used, err := findUsedKeys(root, primary)
	if err != nil {
		return Report{}, fmt.Errorf("scan sources: %w", err)
	}

	report := Report{Untranslated: map[string][]string{}}
	for key := range used {
		if _, ok := primary[key]; !ok {
			report.Missing = append(report.Missing, key)
		}
	}
	for key := range primary {
		if _, ok := used[key]; !ok {
			report.Orphaned = append(report.Orphaned, key)
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Orphaned)

	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return Report{}, err
	}
	for _, file := range files {
		if filepath.Base(file) == primaryLocale {
			continue
		}
		keys, err := loadKeysFromLocale(file)
		if err != nil {
			return Report{}, fmt.Errorf("load %s: %w", file, err)
		}
		var lacking []string
		for key := range primary {
			if _, ok := keys[key]; !ok {
				lacking = append(lacking, key)
			}
		}
		if len(lacking) > 0 {
			sort.Strings(lacking)
			report.Untranslated[filepath.Base(file)] = lacking
		}
	}
	return report, nil
}

var (
	callRe    = regexp.MustCompile(`i18n\.(?:T|Plural)\("([^"]+)"`)
	literalRe = regexp.MustCompile(`"([a-z_]+\.[a-z_.]+)"`)
)

// findUsedKeys collects ids passed to i18n.T and i18n.Plural, plus string
// literals equal to a known id, which covers ids handed around in variables.
// Tests and the tools directory are skipped.
func findUsedKeys(root string, known map[string]struct{}) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case "tools", "_examples", ".git":
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, m := range callRe.FindAllStringSubmatch(string(content), -1) {
			keys[m[1]] = struct{}{}
		}
		for _, m := range literalRe.FindAllStringSubmatch(string(content), -1) {
			if _, ok := known[m[1]]; ok {
				keys[m[1]] = struct{}{}
			}
		}
		return nil
	})
	return keys, err
}

// loadKeysFromLocale reads a locale file and returns its message ids. Plural
// messages (maps of one/other/...) count as a single id.
func loadKeysFromLocale(path string) (map[string]struct{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(data))
	for key := range data {
		keys[key] = struct{}{}
	}
	return keys, nil
}

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
