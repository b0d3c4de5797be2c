package redish

import (
	"fmt"
	"sync"

	"github.com/redish/redish/internal/record"
	"github.com/redish/redish/internal/wal"
)

// txState is one open transaction's private overlay: writes made under
// its id are held here, invisible to every other reader, until Commit
// installs them into the shared memtable.
type txState struct {
	id      uint64
	snapSeq uint64

	mu      sync.Mutex
	overlay map[string]*record.Record
	order   []string // insertion order, so Commit applies writes deterministically
}

// txManager implements spec.md §4.9's optimistic transaction model:
// BeginTransaction snapshots the current sequence number; PutTx/DeleteTx
// buffer their write in a private overlay (never touching the shared
// memtable) while still logging a WAL frame immediately, so the write
// survives a crash and is recovered into the same overlay-then-commit
// shape by wal.Replay's transaction buffering state machine;
// CommitTransaction re-validates each overlaid key against the current
// committed state and aborts with ErrTxConflict on any key written
// since the snapshot, otherwise installs the overlay into the memtable.
//
// Grounded on the teacher's db/transaction.go, which already implements
// RocksDB-style optimistic transactions (conflicts detected at commit,
// not acquired via locks): same Begin/Commit/Rollback lifecycle and
// conflict/unknown-id sentinel errors, adapted here to this engine's
// flat memtable/SSTable state instead of column families and snapshots.
type txManager struct {
	tree *Tree

	mu   sync.Mutex
	next uint64
	txs  map[uint64]*txState
}

func newTxManager(t *Tree) *txManager {
	return &txManager{tree: t, txs: make(map[uint64]*txState)}
}

func (tm *txManager) begin() (uint64, error) {
	tm.mu.Lock()
	tm.next++
	id := tm.next
	tm.mu.Unlock()

	tree := tm.tree
	tree.mu.Lock()
	defer tree.mu.Unlock()
	if err := tree.checkFatalLocked(); err != nil {
		return 0, err
	}
	snap := tree.seq
	if tree.opts.WALEnabled {
		if err := tree.wal.Append(&wal.Frame{Op: wal.OpTxBegin, TxID: id}); err != nil {
			return 0, fmt.Errorf("redish: wal append: %w", ErrIO)
		}
	}

	tm.mu.Lock()
	tm.txs[id] = &txState{id: id, snapSeq: snap, overlay: make(map[string]*record.Record)}
	tm.mu.Unlock()
	return id, nil
}

func (tm *txManager) state(id uint64) (*txState, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	st, ok := tm.txs[id]
	if !ok {
		return nil, fmt.Errorf("redish: tx %d: %w", id, ErrTxUnknown)
	}
	return st, nil
}

func (tm *txManager) discard(id uint64) {
	tm.mu.Lock()
	delete(tm.txs, id)
	tm.mu.Unlock()
}

// BeginTransaction opens a new optimistic transaction and returns its
// id, to be passed to {Put,Get,Delete}Tx and Commit/RollbackTransaction.
func (t *Tree) BeginTransaction() (uint64, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}
	id, err := t.txm.begin()
	if err != nil {
		return 0, err
	}
	t.logger.Debugf("[txn] begin %d", id)
	return id, nil
}

// PutTx buffers a write under txID, invisible to every other reader
// until CommitTransaction succeeds.
func (t *Tree) PutTx(txID uint64, key, value []byte) error {
	return t.writeTx(txID, key, value, false)
}

// DeleteTx buffers a tombstone under txID.
func (t *Tree) DeleteTx(txID uint64, key []byte) error {
	return t.writeTx(txID, key, nil, true)
}

func (t *Tree) writeTx(txID uint64, key, value []byte, tombstone bool) error {
	if err := checkSize(key, value); err != nil {
		return err
	}
	if t.closed.Load() {
		return ErrClosed
	}
	st, err := t.txm.state(txID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if err := t.checkFatalLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	seq := t.nextSeqLocked()
	now := nowMillis()
	if t.opts.WALEnabled {
		op := wal.OpPut
		if tombstone {
			op = wal.OpDelete
		}
		f := &wal.Frame{Op: op, Key: key, Value: value, CreatedAt: now, TTLMillis: record.NoTTL, Sequence: seq, TxID: txID}
		if err := t.wal.Append(f); err != nil {
			t.mu.Unlock()
			return fmt.Errorf("redish: wal append: %w", ErrIO)
		}
	}
	t.mu.Unlock()

	rec := &record.Record{
		Key: append([]byte(nil), key...), Tombstone: tombstone,
		CreatedAt: now, TTLMillis: record.NoTTL, Sequence: seq, TxID: txID,
	}
	if !tombstone {
		rec.Value = append([]byte(nil), value...)
	}

	st.mu.Lock()
	k := string(key)
	if _, exists := st.overlay[k]; !exists {
		st.order = append(st.order, k)
	}
	st.overlay[k] = rec
	st.mu.Unlock()
	return nil
}

// GetTx reads key as txID would see it: its own buffered writes first,
// falling through to the committed engine state.
func (t *Tree) GetTx(txID uint64, key []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	st, err := t.txm.state(txID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	rec, ok := st.overlay[string(key)]
	st.mu.Unlock()
	if ok {
		if rec.Tombstone {
			return nil, ErrNotFound
		}
		return rec.Value, nil
	}
	return t.Get(key)
}

// CommitTransaction validates every key the transaction wrote against
// the current committed state — if any was written by another,
// already-committed writer since the transaction's snapshot sequence,
// the whole commit aborts with ErrTxConflict and the overlay is
// discarded (the caller must retry, not resubmit). On success, a
// TxCommit frame is appended and every buffered record is installed
// into the shared memtable with TxID reset to 0.
func (t *Tree) CommitTransaction(txID uint64) error {
	if t.closed.Load() {
		return ErrClosed
	}
	st, err := t.txm.state(txID)
	if err != nil {
		return err
	}
	defer t.txm.discard(txID)

	st.mu.Lock()
	defer st.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkFatalLocked(); err != nil {
		return err
	}

	for _, k := range st.order {
		if cur := t.currentRecordLocked([]byte(k)); cur != nil && cur.Sequence > st.snapSeq {
			return fmt.Errorf("redish: tx %d key %q: %w", txID, k, ErrTxConflict)
		}
	}

	if t.opts.WALEnabled {
		if err := t.wal.Append(&wal.Frame{Op: wal.OpTxCommit, Sequence: 0, TxID: txID}); err != nil {
			return fmt.Errorf("redish: wal append: %w", ErrIO)
		}
	}
	for _, k := range st.order {
		rec := st.overlay[k]
		committed := rec.Clone()
		committed.TxID = 0
		t.mem.Put(committed)
		if t.valueCache != nil {
			t.valueCache.Invalidate(committed.Key)
		}
	}
	t.maybeFreezeLocked()
	t.logger.Debugf("[txn] commit %d (%d keys)", txID, len(st.order))
	return nil
}

// RollbackTransaction discards txID's overlay without touching shared
// state. Safe to call on a transaction that never wrote anything.
func (t *Tree) RollbackTransaction(txID uint64) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if _, err := t.txm.state(txID); err != nil {
		return err
	}
	defer t.txm.discard(txID)

	if t.opts.WALEnabled {
		t.mu.Lock()
		err := t.wal.Append(&wal.Frame{Op: wal.OpTxRollback, TxID: txID})
		t.mu.Unlock()
		if err != nil {
			return fmt.Errorf("redish: wal append: %w", ErrIO)
		}
	}
	t.logger.Debugf("[txn] rollback %d", txID)
	return nil
}
