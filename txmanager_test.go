package redish

import (
	"errors"
	"testing"
)

func TestTransactionCommitAppliesWrites(t *testing.T) {
	dir := t.TempDir()
	tr := openTree(t, defaultTestOptions(dir))

	txID, err := tr.BeginTransaction()
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := tr.PutTx(txID, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("PutTx: %v", err)
	}
	if err := tr.PutTx(txID, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("PutTx: %v", err)
	}

	// Writes made under txID are invisible to a non-transactional reader
	// before commit.
	if _, err := tr.Get([]byte("a")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected uncommitted write to be invisible, got %v", err)
	}
	got, err := tr.GetTx(txID, []byte("a"))
	if err != nil || string(got) != "1" {
		t.Fatalf("GetTx should see its own buffered write: got %q, %v", got, err)
	}

	if err := tr.CommitTransaction(txID); err != nil {
		t.Fatalf("CommitTransaction: %v", err)
	}

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		got, err := tr.Get([]byte(key))
		if err != nil || string(got) != want {
			t.Fatalf("Get(%q) after commit: got %q, %v", key, got, err)
		}
	}
}

func TestTransactionRollbackDiscardsWrites(t *testing.T) {
	dir := t.TempDir()
	tr := openTree(t, defaultTestOptions(dir))

	txID, err := tr.BeginTransaction()
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := tr.PutTx(txID, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("PutTx: %v", err)
	}
	if err := tr.RollbackTransaction(txID); err != nil {
		t.Fatalf("RollbackTransaction: %v", err)
	}

	if _, err := tr.Get([]byte("a")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rolled-back write to be absent, got %v", err)
	}
	if _, err := tr.GetTx(txID, []byte("a")); !errors.Is(err, ErrTxUnknown) {
		t.Fatalf("expected ErrTxUnknown after rollback, got %v", err)
	}
}

func TestTransactionConflictAbortsCommit(t *testing.T) {
	dir := t.TempDir()
	tr := openTree(t, defaultTestOptions(dir))

	if err := tr.Put([]byte("k"), []byte("original")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	txID, err := tr.BeginTransaction()
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := tr.PutTx(txID, []byte("k"), []byte("from-tx")); err != nil {
		t.Fatalf("PutTx: %v", err)
	}

	// A non-transactional write lands after the transaction's snapshot,
	// so committing the transaction must now conflict.
	if err := tr.Put([]byte("k"), []byte("concurrent")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := tr.CommitTransaction(txID); !errors.Is(err, ErrTxConflict) {
		t.Fatalf("expected ErrTxConflict, got %v", err)
	}

	// The overlay is discarded on a failed commit; the concurrent write
	// stands.
	got, err := tr.Get([]byte("k"))
	if err != nil || string(got) != "concurrent" {
		t.Fatalf("expected concurrent write to stand, got %q, %v", got, err)
	}
	if _, err := tr.GetTx(txID, []byte("k")); !errors.Is(err, ErrTxUnknown) {
		t.Fatalf("expected transaction to be discarded after failed commit, got %v", err)
	}
}

func TestTransactionUnknownID(t *testing.T) {
	dir := t.TempDir()
	tr := openTree(t, defaultTestOptions(dir))

	const bogus = 9999
	if err := tr.PutTx(bogus, []byte("k"), []byte("v")); !errors.Is(err, ErrTxUnknown) {
		t.Fatalf("expected ErrTxUnknown, got %v", err)
	}
	if _, err := tr.GetTx(bogus, []byte("k")); !errors.Is(err, ErrTxUnknown) {
		t.Fatalf("expected ErrTxUnknown, got %v", err)
	}
	if err := tr.CommitTransaction(bogus); !errors.Is(err, ErrTxUnknown) {
		t.Fatalf("expected ErrTxUnknown, got %v", err)
	}
	if err := tr.RollbackTransaction(bogus); !errors.Is(err, ErrTxUnknown) {
		t.Fatalf("expected ErrTxUnknown, got %v", err)
	}
}

func TestTransactionGetTxFallsThroughToCommittedState(t *testing.T) {
	dir := t.TempDir()
	tr := openTree(t, defaultTestOptions(dir))

	if err := tr.Put([]byte("a"), []byte("committed")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	txID, err := tr.BeginTransaction()
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}

	got, err := tr.GetTx(txID, []byte("a"))
	if err != nil || string(got) != "committed" {
		t.Fatalf("GetTx should fall through to committed state: got %q, %v", got, err)
	}

	if err := tr.DeleteTx(txID, []byte("a")); err != nil {
		t.Fatalf("DeleteTx: %v", err)
	}
	if _, err := tr.GetTx(txID, []byte("a")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected buffered tombstone to shadow committed value, got %v", err)
	}

	if err := tr.CommitTransaction(txID); err != nil {
		t.Fatalf("CommitTransaction: %v", err)
	}
	if _, err := tr.Get([]byte("a")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected tombstone to be visible after commit, got %v", err)
	}
}
