// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package keyring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/toeirei/kmring/internal/backend"
	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/journal"
	"github.com/toeirei/kmring/internal/keytable"
	"github.com/toeirei/kmring/internal/model"
	"github.com/toeirei/kmring/internal/progress"
)

// Export writes the armored public keys of items to w, one after the other,
// and returns w. Identity sub-records are skipped; any other item must be an
// exportable object of this keyring. The first failure stops the export;
// output already written stays in w.
func (k *Keyring) Export(ctx context.Context, items []any, w io.Writer) (io.Writer, error) {
	ids, err := k.exportIDs(items)
	if err == nil {
		err = k.exportKeys(ctx, ids, w)
	}
	k.record(ctx, journal.NewEntry(journal.ActionExport, strings.Join(ids, ","), err))
	return w, err
}

func (k *Keyring) exportIDs(items []any) ([]string, error) {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		switch it.(type) {
		case model.UserID, *model.UserID:
			continue
		}
		ex, ok := it.(model.Exportable)
		if !ok {
			return nil, fmt.Errorf("%w: %T can not be exported", errdef.ErrPrecondition, it)
		}
		if ex.Origin() != k.table.Origin() {
			return nil, fmt.Errorf("%w: %s belongs to %s", errdef.ErrPrecondition, ex.ExportID(), ex.Origin())
		}
		ids = append(ids, ex.ExportID())
	}
	return ids, nil
}

func (k *Keyring) exportKeys(ctx context.Context, ids []string, w io.Writer) error {
	if len(ids) == 0 {
		return nil
	}
	if ctx.Err() != nil {
		return errdef.ErrCancelled
	}
	token := progress.NewToken()
	for _, id := range ids {
		k.progress.Prep(token, id)
	}

	sess, err := k.backend.Open(ctx)
	if err != nil {
		return errdef.Translate("open", err)
	}
	defer func() { _ = sess.Close() }()

	opts := backend.ExportOptions{Armor: true, TextMode: true}
	for _, id := range ids {
		k.progress.Begin(token, id)
		err := sess.Export(ctx, id, w, opts)
		k.progress.End(token, id)
		if err != nil {
			return errdef.Translate("export", err)
		}
		if ctx.Err() != nil {
			return errdef.ErrCancelled
		}
	}
	return nil
}

// Delete removes the key from the backend, including its secret half when
// present, and then from the table.
func (k *Keyring) Delete(ctx context.Context, item model.Deletable) error {
	err := k.deleteKey(ctx, item)
	id := ""
	if item != nil {
		id = item.DeleteID()
	}
	k.record(ctx, journal.NewEntry(journal.ActionDelete, id, err))
	return err
}

func (k *Keyring) deleteKey(ctx context.Context, item model.Deletable) error {
	if item == nil {
		return fmt.Errorf("%w: nothing to delete", errdef.ErrPrecondition)
	}
	if item.Origin() != k.table.Origin() {
		return fmt.Errorf("%w: %s belongs to %s", errdef.ErrPrecondition, item.DeleteID(), item.Origin())
	}
	if ctx.Err() != nil {
		return errdef.ErrCancelled
	}
	sess, err := k.backend.Open(ctx)
	if err != nil {
		return errdef.Translate("open", err)
	}
	defer func() { _ = sess.Close() }()

	if err := sess.Delete(ctx, item.DeleteID(), item.HasSecret()); err != nil {
		return errdef.Translate("delete", err)
	}
	if err := k.table.Remove(item.DeleteID()); err != nil && !errors.Is(err, keytable.ErrNotFound) {
		return err
	}
	return nil
}
