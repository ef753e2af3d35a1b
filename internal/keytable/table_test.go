// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package keytable

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/model"
)

type recorder struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (r *recorder) KeyAdded(rec *model.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, rec.ID())
}

func (r *recorder) KeyRemoved(rec *model.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, rec.ID())
}

func pub(id string) *model.Descriptor { return &model.Descriptor{KeyID: id} }
func sec(id string) *model.Descriptor { return &model.Descriptor{KeyID: id, Secret: true} }

func ids(recs []*model.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID())
	}
	return out
}

func TestInsertOrMerge_SecretOnlyStaysOrphan(t *testing.T) {
	tbl := New("test")
	rec := &recorder{}
	tbl.Subscribe(rec)

	got, err := tbl.InsertOrMerge(sec("A1"))
	if err != nil {
		t.Fatalf("InsertOrMerge: %v", err)
	}
	if got != nil {
		t.Fatalf("secret-only half must not surface, got %v", got.ID())
	}
	if _, ok := tbl.Lookup("A1"); ok {
		t.Fatalf("orphan visible through Lookup")
	}
	if tbl.Len() != 0 || len(rec.added) != 0 {
		t.Fatalf("orphan must not be in table or notified: len=%d added=%v", tbl.Len(), rec.added)
	}
	if _, ok := tbl.LookupOrphan("a1"); !ok {
		t.Fatalf("orphan not parked")
	}
}

func TestInsertOrMerge_EitherOrderSingleRecord(t *testing.T) {
	orders := map[string][]*model.Descriptor{
		"public first": {pub("A1"), sec("A1")},
		"secret first": {sec("A1"), pub("A1")},
	}
	for name, halves := range orders {
		t.Run(name, func(t *testing.T) {
			tbl := New("test")
			rec := &recorder{}
			tbl.Subscribe(rec)
			for _, h := range halves {
				if _, err := tbl.InsertOrMerge(h); err != nil {
					t.Fatalf("InsertOrMerge: %v", err)
				}
			}
			if tbl.Len() != 1 {
				t.Fatalf("expected exactly one record, got %d", tbl.Len())
			}
			r, ok := tbl.Lookup("A1")
			if !ok {
				t.Fatalf("record missing")
			}
			if r.Public() == nil || r.Secret() == nil {
				t.Fatalf("record must hold both halves")
			}
			if r.Usage() != model.UsagePrivateKey {
				t.Fatalf("unexpected usage %v", r.Usage())
			}
			if len(tbl.Orphans()) != 0 {
				t.Fatalf("orphan set should be empty after match")
			}
			if diff := cmp.Diff([]string{"A1"}, rec.added); diff != "" {
				t.Fatalf("added events mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInsertOrMerge_MergeKeepsPointer(t *testing.T) {
	tbl := New("test")
	first, _ := tbl.InsertOrMerge(pub("B2"))
	second, _ := tbl.InsertOrMerge(&model.Descriptor{KeyID: "b2", Algorithm: "EdDSA"})
	if first != second {
		t.Fatalf("merge must mutate in place")
	}
	if first.Public().Algorithm != "EdDSA" {
		t.Fatalf("same-typed half must be replaced")
	}
}

func TestInsertOrMerge_Malformed(t *testing.T) {
	tbl := New("test")
	if _, err := tbl.InsertOrMerge(&model.Descriptor{}); !errors.Is(err, errdef.ErrPrecondition) {
		t.Fatalf("expected precondition violation, got %v", err)
	}
}

// A record is visible iff its public half was merged at least once,
// whatever the arrival order.
func TestVisibilityProperty_RandomOrders(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		var halves []*model.Descriptor
		hasPublic := map[string]bool{}
		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("%02X", i)
			switch rng.Intn(3) {
			case 0:
				halves = append(halves, pub(id))
				hasPublic[id] = true
			case 1:
				halves = append(halves, sec(id))
			default:
				halves = append(halves, pub(id), sec(id))
				hasPublic[id] = true
			}
		}
		rng.Shuffle(len(halves), func(i, j int) { halves[i], halves[j] = halves[j], halves[i] })

		tbl := New("test")
		for _, h := range halves {
			if _, err := tbl.InsertOrMerge(h); err != nil {
				t.Fatalf("InsertOrMerge: %v", err)
			}
		}
		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("%02X", i)
			_, visible := tbl.Lookup(id)
			if visible != hasPublic[id] {
				t.Fatalf("round %d: id %s visible=%v, public merged=%v", round, id, visible, hasPublic[id])
			}
		}
	}
}

func TestRemove(t *testing.T) {
	tbl := New("test")
	rec := &recorder{}
	tbl.Subscribe(rec)
	_, _ = tbl.InsertOrMerge(pub("C3"))

	if err := tbl.Remove("c3"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := tbl.Remove("C3"); !errors.Is(err, ErrNotFound) || !errors.Is(err, errdef.ErrPrecondition) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if diff := cmp.Diff([]string{"C3"}, rec.removed); diff != "" {
		t.Fatalf("removed events mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	tbl := New("test")
	for _, id := range []string{"A", "B", "C"} {
		_, _ = tbl.InsertOrMerge(pub(id))
	}
	rec := &recorder{}
	tbl.Subscribe(rec)

	if removed := tbl.Reconcile(ids(tbl.Records())); len(removed) != 0 {
		t.Fatalf("reconcile against own key set removed %v", removed)
	}
	if len(rec.removed) != 0 {
		t.Fatalf("unexpected removed events: %v", rec.removed)
	}
}

func TestReconcile_Completeness(t *testing.T) {
	tbl := New("test")
	for _, id := range []string{"A", "B", "C"} {
		_, _ = tbl.InsertOrMerge(pub(id))
	}
	rec := &recorder{}
	tbl.Subscribe(rec)

	removed := tbl.Reconcile([]string{"A", "C"})
	if diff := cmp.Diff([]string{"B"}, removed); diff != "" {
		t.Fatalf("removed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "C"}, ids(tbl.Records())); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"B"}, rec.removed); diff != "" {
		t.Fatalf("exactly one removed event for B expected (-want +got):\n%s", diff)
	}
}

func TestIDsWithUsage(t *testing.T) {
	tbl := New("test")
	_, _ = tbl.InsertOrMerge(pub("A"))
	_, _ = tbl.InsertOrMerge(pub("B"))
	_, _ = tbl.InsertOrMerge(sec("B"))
	_, _ = tbl.InsertOrMerge(sec("C"))

	if diff := cmp.Diff([]string{"A"}, tbl.IDsWithUsage(model.UsagePublicKey)); diff != "" {
		t.Fatalf("public ids (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"B"}, tbl.IDsWithUsage(model.UsagePrivateKey)); diff != "" {
		t.Fatalf("private ids (-want +got):\n%s", diff)
	}
}

func TestObserverMayReadTable(t *testing.T) {
	tbl := New("test")
	var seen int
	tbl.Subscribe(Funcs{Added: func(r *model.Record) {
		if _, ok := tbl.Lookup(r.ID()); ok {
			seen++
		}
	}})
	_, _ = tbl.InsertOrMerge(pub("D4"))
	if seen != 1 {
		t.Fatalf("observer should see the new record in the table")
	}
}

func TestUnsubscribe(t *testing.T) {
	tbl := New("test")
	rec := &recorder{}
	cancel := tbl.Subscribe(rec)
	cancel()
	_, _ = tbl.InsertOrMerge(pub("E5"))
	if len(rec.added) != 0 {
		t.Fatalf("unsubscribed observer notified")
	}
}

func TestEventsChannelOrder(t *testing.T) {
	tbl := New("test")
	ch, cancel := tbl.Events()
	defer cancel()

	_, _ = tbl.InsertOrMerge(pub("A"))
	_, _ = tbl.InsertOrMerge(pub("B"))
	_ = tbl.Remove("A")

	want := []string{"added A", "added B", "removed A"}
	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < len(want) {
		select {
		case ev := <-ch:
			got = append(got, ev.Type.String()+" "+ev.Record.ID())
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentMutations(t *testing.T) {
	tbl := New("test")
	rec := &recorder{}
	tbl.Subscribe(rec)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("%X", i)
				if w%2 == 0 {
					_, _ = tbl.InsertOrMerge(pub(id))
				} else {
					_, _ = tbl.InsertOrMerge(sec(id))
				}
			}
		}(w)
	}
	wg.Wait()

	if tbl.Len() != 100 {
		t.Fatalf("expected 100 records, got %d", tbl.Len())
	}
	if len(rec.added) != 100 {
		t.Fatalf("expected one added event per record, got %d", len(rec.added))
	}
	if len(tbl.Orphans()) != 0 {
		t.Fatalf("all orphans should have been matched")
	}
}

func TestObserverReadsDuringConcurrentWriters(t *testing.T) {
	tbl := New("test")
	var writers sync.WaitGroup
	tbl.Subscribe(Funcs{Added: func(r *model.Record) {
		time.Sleep(time.Millisecond)
		_ = tbl.Len()
		if _, ok := tbl.Lookup(r.ID()); !ok {
			t.Errorf("added record %s not visible to observer", r.ID())
		}
		_ = tbl.Records()
	}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for w := 0; w < 2; w++ {
			writers.Add(1)
			go func(w int) {
				defer writers.Done()
				for i := 0; i < 200; i++ {
					_, _ = tbl.InsertOrMerge(pub(fmt.Sprintf("%d%03X", w+1, i)))
				}
			}(w)
		}
		writers.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("concurrent writers with a reading observer did not finish")
	}
	if tbl.Len() != 400 {
		t.Fatalf("expected 400 records, got %d", tbl.Len())
	}
}

func TestPruneHalves(t *testing.T) {
	tbl := New("test")
	for _, id := range []string{"A", "B", "C"} {
		_, _ = tbl.InsertOrMerge(pub(id))
		_, _ = tbl.InsertOrMerge(sec(id))
	}
	_, _ = tbl.InsertOrMerge(sec("D"))
	rec := &recorder{}
	tbl.Subscribe(rec)

	if diff := cmp.Diff([]string{"A", "D"}, tbl.PruneHalves([]string{"A", "D", "X"}, true)); diff != "" {
		t.Fatalf("secret prune (-want +got):\n%s", diff)
	}
	if r, ok := tbl.Lookup("A"); !ok || r.Usage() != model.UsagePublicKey {
		t.Fatalf("A must stay as a public key")
	}
	if _, ok := tbl.LookupOrphan("D"); ok {
		t.Fatalf("orphan D must be dropped")
	}
	if len(rec.removed) != 0 {
		t.Fatalf("secret prune must not notify, got %v", rec.removed)
	}

	if diff := cmp.Diff([]string{"A", "B"}, tbl.PruneHalves([]string{"A", "B"}, false)); diff != "" {
		t.Fatalf("public prune (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"C"}, ids(tbl.Records())); diff != "" {
		t.Fatalf("records (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"B"}, tbl.OrphanIDs()); diff != "" {
		t.Fatalf("secret half of B must be parked (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "B"}, rec.removed); diff != "" {
		t.Fatalf("removed events (-want +got):\n%s", diff)
	}

	// The parked half is adopted again once its public half returns.
	if r, _ := tbl.InsertOrMerge(pub("B")); r == nil || r.Usage() != model.UsagePrivateKey {
		t.Fatalf("B must come back as a private key")
	}
}

func TestClear(t *testing.T) {
	tbl := New("test")
	_, _ = tbl.InsertOrMerge(pub("B"))
	_, _ = tbl.InsertOrMerge(pub("A"))
	_, _ = tbl.InsertOrMerge(sec("O"))
	rec := &recorder{}
	tbl.Subscribe(rec)

	tbl.Clear()
	if tbl.Len() != 0 || len(tbl.Orphans()) != 0 {
		t.Fatalf("table must be empty, len=%d orphans=%d", tbl.Len(), len(tbl.Orphans()))
	}
	if diff := cmp.Diff([]string{"A", "B"}, rec.removed); diff != "" {
		t.Fatalf("removed events (-want +got):\n%s", diff)
	}
}
