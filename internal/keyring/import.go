// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package keyring

import (
	"context"
	"fmt"
	"io"

	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/i18n"
	"github.com/toeirei/kmring/internal/journal"
	"github.com/toeirei/kmring/internal/logging"
	"github.com/toeirei/kmring/internal/model"
	"github.com/toeirei/kmring/internal/progress"
)

// Import hands r to the backend, then pulls the imported keys into the table
// with full detail and returns their records. Imported fingerprints that do
// not resolve to a record are logged and skipped.
func (k *Keyring) Import(ctx context.Context, r io.Reader) ([]*model.Record, error) {
	recs, err := k.importKeys(ctx, r)
	k.record(ctx, journal.NewEntry(journal.ActionImport, fmt.Sprintf("%d keys into %s", len(recs), k.backend.Name()), err))
	return recs, err
}

func (k *Keyring) importKeys(ctx context.Context, r io.Reader) ([]*model.Record, error) {
	if ctx.Err() != nil {
		return nil, errdef.ErrCancelled
	}
	sess, err := k.backend.Open(ctx)
	if err != nil {
		return nil, errdef.Translate("open", err)
	}
	defer func() { _ = sess.Close() }()

	token := progress.NewToken()
	k.progress.Prep(token, "import")
	k.progress.Begin(token, "import")
	defer k.progress.End(token, "import")

	res, err := sess.Import(ctx, r)
	if err != nil {
		return nil, errdef.Translate("import", err)
	}

	var patterns []string
	for _, st := range res.Imports {
		if st.Err == nil && st.Fingerprint != "" {
			patterns = append(patterns, st.Fingerprint)
		}
	}
	if len(patterns) == 0 {
		if res.Considered > 0 && res.NoUserID > 0 {
			return nil, &errdef.DataError{Msg: i18n.T("import.invalid_missing_uids")}
		}
		k.progress.Update(token, i18n.T("import.nothing"))
		return nil, nil
	}

	if err := k.LoadFull(ctx, patterns, LoadSignatures); err != nil {
		return nil, err
	}

	recs := make([]*model.Record, 0, len(patterns))
	for _, fpr := range patterns {
		rec, ok := k.Lookup(fpr)
		if !ok {
			logging.Warnf("keyring: imported key %s not found in keyring", fpr)
			continue
		}
		recs = append(recs, rec)
	}
	k.progress.Update(token, i18n.Plural("import.imported", len(recs)))
	return recs, nil
}
