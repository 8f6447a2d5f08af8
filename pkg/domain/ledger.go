package domain

import (
	"context"
	"iter"
	"time"
)

// KV is one entry produced by a prefix scan.
type KV struct {
	Key   Key
	Value []byte
}

// HistoryEntry is one committed value of a key. Deleted entries carry no value.
type HistoryEntry struct {
	TxID      string
	Timestamp time.Time
	Value     []byte
	IsDelete  bool
}

// Ledger is the keyed record store custody operations read and write. Reads
// observe the transaction's own buffered writes only when the backend
// supports it; callers must not depend on that.
type Ledger interface {
	// GetState returns the committed value of key, or nil when absent.
	GetState(key Key) ([]byte, error)
	// PutState stages value under key for commit.
	PutState(key Key, value []byte) error
	// ScanPrefix lazily yields every record whose key extends the composite
	// key of namespace and attrs, ordered by key.
	ScanPrefix(namespace string, attrs ...string) iter.Seq2[KV, error]
	// History lazily yields every committed value of key, oldest first.
	History(key Key) iter.Seq2[HistoryEntry, error]
}

// Identity resolves the invoking client. cid.ClientIdentity satisfies it.
type Identity interface {
	GetID() (string, error)
	GetMSPID() (string, error)
}

// LocalIdentity is a fixed Identity for off-chain callers and tests.
type LocalIdentity struct {
	ID    string
	MSPID string
}

// GetID returns the opaque caller identity.
func (i LocalIdentity) GetID() (string, error) { return i.ID, nil }

// GetMSPID returns the membership service provider of the caller.
func (i LocalIdentity) GetMSPID() (string, error) { return i.MSPID, nil }

// TxContext is everything one custody operation may touch: the ledger, the
// caller, and the identity and time of the enclosing transaction.
type TxContext interface {
	Ledger() Ledger
	Caller() Identity
	TxID() string
	Timestamp() (time.Time, error)
}

// Receipt describes a committed local transaction.
type Receipt struct {
	TxID      string
	Height    uint64
	Timestamp time.Time
	Writes    int
}

// PersistentStore runs custody operations against a local ledger with
// optimistic concurrency control. A transaction whose reads were invalidated
// by a concurrent commit fails with ErrConflict and leaves no trace.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, caller Identity, fn func(TxContext) error) (Receipt, error)
	View(ctx context.Context, caller Identity, fn func(TxContext) error) error
	Close() error
}
