package storage

import (
	"bytes"
	"testing"

	"github.com/aleksaelezovic/trigo/pkg/store"
)

func TestBadgerStorageSetGet(t *testing.T) {
	tmpDir := t.TempDir()
	s, err := NewBadgerStorage(tmpDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer s.Close()

	txn, err := s.Begin(true)
	if err != nil {
		t.Fatalf("failed to begin writable txn: %v", err)
	}
	if err := txn.Set(store.TableSPO, []byte("alice"), []byte("v1")); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if err := txn.Set(store.TableSPO, []byte("bob"), []byte("v2")); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	ro, err := s.Begin(false)
	if err != nil {
		t.Fatalf("failed to begin read-only txn: %v", err)
	}
	defer ro.Rollback()

	val, err := ro.Get(store.TableSPO, []byte("alice"))
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if !bytes.Equal(val, []byte("v1")) {
		t.Errorf("expected v1, got %q", val)
	}

	if _, err := ro.Get(store.TableSPO, []byte("nobody")); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := ro.Set(store.TableSPO, []byte("carol"), []byte("v3")); err != store.ErrTransactionRO {
		t.Errorf("expected ErrTransactionRO, got %v", err)
	}
}

func TestBadgerStorageScan(t *testing.T) {
	tmpDir := t.TempDir()
	s, err := NewBadgerStorage(tmpDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer s.Close()

	txn, err := s.Begin(true)
	if err != nil {
		t.Fatalf("failed to begin writable txn: %v", err)
	}
	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, k := range keys {
		if err := txn.Set(store.TableSPO, k, k); err != nil {
			t.Fatalf("failed to set %q: %v", k, err)
		}
	}
	// A key in a different table must not show up in the TableSPO scan.
	if err := txn.Set(store.TablePOS, []byte("a"), []byte("other-table")); err != nil {
		t.Fatalf("failed to set cross-table key: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	ro, err := s.Begin(false)
	if err != nil {
		t.Fatalf("failed to begin read-only txn: %v", err)
	}
	defer ro.Rollback()

	it, err := ro.Scan(store.TableSPO, nil, nil)
	if err != nil {
		t.Fatalf("failed to scan: %v", err)
	}
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	if len(got) != len(keys) {
		t.Fatalf("expected %d rows, got %d (%v)", len(keys), len(got), got)
	}
	for i, k := range keys {
		if got[i] != string(k) {
			t.Errorf("row %d: expected %q, got %q", i, k, got[i])
		}
	}
}

func TestBadgerStorageDelete(t *testing.T) {
	tmpDir := t.TempDir()
	s, err := NewBadgerStorage(tmpDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer s.Close()

	txn, err := s.Begin(true)
	if err != nil {
		t.Fatalf("failed to begin writable txn: %v", err)
	}
	if err := txn.Set(store.TableSPO, []byte("alice"), []byte("v1")); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	txn2, err := s.Begin(true)
	if err != nil {
		t.Fatalf("failed to begin writable txn: %v", err)
	}
	if err := txn2.Delete(store.TableSPO, []byte("alice")); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if err := txn2.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	ro, err := s.Begin(false)
	if err != nil {
		t.Fatalf("failed to begin read-only txn: %v", err)
	}
	defer ro.Rollback()
	if _, err := ro.Get(store.TableSPO, []byte("alice")); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
