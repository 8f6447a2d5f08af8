// Package fabric adapts the custody core to Hyperledger Fabric: the chaincode
// stub backs domain.Ledger, the client identity is the caller, and Contract
// exposes the custody operations as chaincode transactions.
package fabric

import (
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"

	"pharmanet/pkg/domain"
)

var (
	_ domain.Ledger    = (*Ledger)(nil)
	_ domain.TxContext = (*TxContext)(nil)
)

// Ledger reads and writes world state through a chaincode stub. Domain keys
// share Fabric's composite key encoding, so they are passed through as is.
type Ledger struct {
	stub shim.ChaincodeStubInterface
}

// NewLedger wraps stub.
func NewLedger(stub shim.ChaincodeStubInterface) *Ledger {
	return &Ledger{stub: stub}
}

// GetState implements domain.Ledger.
func (l *Ledger) GetState(key domain.Key) ([]byte, error) {
	return l.stub.GetState(string(key))
}

// PutState implements domain.Ledger.
func (l *Ledger) PutState(key domain.Key, value []byte) error {
	return l.stub.PutState(string(key), value)
}

// ScanPrefix implements domain.Ledger with a partial composite key query.
func (l *Ledger) ScanPrefix(namespace string, attrs ...string) iter.Seq2[domain.KV, error] {
	return func(yield func(domain.KV, error) bool) {
		it, err := l.stub.GetStateByPartialCompositeKey(namespace, attrs)
		if err != nil {
			yield(domain.KV{}, fmt.Errorf("partial composite key query %s: %w", namespace, err))
			return
		}
		defer it.Close()
		for it.HasNext() {
			kv, err := it.Next()
			if err != nil {
				yield(domain.KV{}, fmt.Errorf("partial composite key query %s: %w", namespace, err))
				return
			}
			if !yield(domain.KV{Key: domain.Key(kv.GetKey()), Value: kv.GetValue()}, nil) {
				return
			}
		}
	}
}

// History implements domain.Ledger. Fabric does not promise an order for key
// history, so entries are collected and sorted by transaction time, oldest
// first, before any is yielded.
func (l *Ledger) History(key domain.Key) iter.Seq2[domain.HistoryEntry, error] {
	return func(yield func(domain.HistoryEntry, error) bool) {
		entries, err := l.history(key)
		if err != nil {
			yield(domain.HistoryEntry{}, err)
			return
		}
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (l *Ledger) history(key domain.Key) ([]domain.HistoryEntry, error) {
	it, err := l.stub.GetHistoryForKey(string(key))
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", key, err)
	}
	defer it.Close()
	var entries []domain.HistoryEntry
	for it.HasNext() {
		mod, err := it.Next()
		if err != nil {
			return nil, fmt.Errorf("history for %s: %w", key, err)
		}
		entries = append(entries, historyEntry(mod))
	}
	slices.SortStableFunc(entries, func(a, b domain.HistoryEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return entries, nil
}

func historyEntry(mod *queryresult.KeyModification) domain.HistoryEntry {
	entry := domain.HistoryEntry{
		TxID:     mod.GetTxId(),
		Value:    mod.GetValue(),
		IsDelete: mod.GetIsDelete(),
	}
	if ts := mod.GetTimestamp(); ts != nil {
		entry.Timestamp = ts.AsTime()
	}
	return entry
}

// TxContext is the custody view of one chaincode invocation.
type TxContext struct {
	stub   shim.ChaincodeStubInterface
	ledger *Ledger
	caller domain.Identity
}

// NewTxContext binds stub and the invoking client identity.
func NewTxContext(stub shim.ChaincodeStubInterface, caller domain.Identity) *TxContext {
	return &TxContext{stub: stub, ledger: NewLedger(stub), caller: caller}
}

// Ledger implements domain.TxContext.
func (t *TxContext) Ledger() domain.Ledger { return t.ledger }

// Caller implements domain.TxContext.
func (t *TxContext) Caller() domain.Identity { return t.caller }

// TxID implements domain.TxContext.
func (t *TxContext) TxID() string { return t.stub.GetTxID() }

// Timestamp returns the proposal timestamp, identical on every endorser.
func (t *TxContext) Timestamp() (time.Time, error) {
	ts, err := t.stub.GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("transaction timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, fmt.Errorf("transaction %s carries no timestamp", t.stub.GetTxID())
	}
	return ts.AsTime(), nil
}
