package leveldb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goleveldb "github.com/syndtr/goleveldb/leveldb"

	"pharmanet/internal/infra/persistence/memory"
	"pharmanet/pkg/domain"
)

var admin = domain.LocalIdentity{ID: "x509::CN=admin", MSPID: "transporterMSP"}

func shipmentKey(t *testing.T) domain.Key {
	t.Helper()
	k, err := domain.ShipmentKey("DIST001", "Paracetamol")
	require.NoError(t, err)
	return k
}

func put(t *testing.T, s *Store, v string) domain.Receipt {
	t.Helper()
	r, err := s.RunInTransaction(context.Background(), admin, func(tx domain.TxContext) error {
		return tx.Ledger().PutState(shipmentKey(t), []byte(v))
	})
	require.NoError(t, err)
	return r
}

func TestBlockKeysSortByHeight(t *testing.T) {
	assert.Less(t, string(blockKey(9)), string(blockKey(10)))
	assert.Equal(t, "block/00000000000000000042", string(blockKey(42)))
}

func TestLevelDBStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	store, err := NewStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	first := put(t, store, "in-transit")
	put(t, store, "delivered")
	require.NoError(t, store.Close())

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reloaded.Close() })
	assert.Equal(t, uint64(2), reloaded.Height())

	var values []string
	require.NoError(t, reloaded.View(context.Background(), admin, func(tx domain.TxContext) error {
		for h, err := range tx.Ledger().History(shipmentKey(t)) {
			if err != nil {
				return err
			}
			values = append(values, string(h.Value))
		}
		return nil
	}))
	assert.Equal(t, []string{"in-transit", "delivered"}, values)

	commit, err := reloaded.CommitByTxID(first.TxID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), commit.Height)
	assert.Equal(t, "transporterMSP", commit.CreatorMSP)

	_, err = reloaded.CommitByTxID("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLevelDBStoreRejectsTruncatedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	store, err := NewStore(path)
	require.NoError(t, err)
	put(t, store, "in-transit")
	put(t, store, "delivered")
	require.NoError(t, store.Close())

	db, err := goleveldb.OpenFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Delete(blockKey(2), nil))
	require.NoError(t, db.Close())

	_, err = NewStore(path)
	assert.ErrorContains(t, err, "does not match last block")
}

func TestLevelDBStoreRejectsCorruptBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	db, err := goleveldb.OpenFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Put(blockKey(1), []byte{0xff}, nil))
	require.NoError(t, db.Close())

	_, err = NewStore(path)
	assert.ErrorContains(t, err, "decode block/")
}

func TestLevelDBStoreWriteFailureKeepsStateInvisible(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "ledger"), memory.WithTxIDs(func() string { return "tx-fixed" }))
	require.NoError(t, err)
	require.NoError(t, store.db.Close())

	_, err = store.RunInTransaction(context.Background(), admin, func(tx domain.TxContext) error {
		return tx.Ledger().PutState(shipmentKey(t), []byte("in-transit"))
	})
	require.Error(t, err)
	assert.Zero(t, store.Height())
}
