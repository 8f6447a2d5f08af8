package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmanet/internal/infra/persistence/leveldb"
	"pharmanet/internal/infra/persistence/memory"
	"pharmanet/internal/infra/persistence/sqlite"
	"pharmanet/pkg/config"
	"pharmanet/pkg/domain"
)

func TestOpenPersistentStoreDefaultsToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := OpenPersistentStore(config.LedgerConfig{SQLitePath: path})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	s, ok := store.(*sqlite.Store)
	require.True(t, ok, "expected *sqlite.Store, got %T", store)
	assert.Equal(t, path, s.Path())
}

func TestOpenPersistentStoreMemory(t *testing.T) {
	store, err := OpenPersistentStore(config.LedgerConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)
}

func TestOpenPersistentStoreLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	store, err := OpenPersistentStore(config.LedgerConfig{Driver: "leveldb", LevelDBPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	s, ok := store.(*leveldb.Store)
	require.True(t, ok, "expected *leveldb.Store, got %T", store)
	assert.Equal(t, path, s.Path())
}

func TestOpenPersistentStorePassesOptions(t *testing.T) {
	store, err := OpenPersistentStore(config.LedgerConfig{Driver: "memory"}, memory.WithTxIDs(func() string { return "fixed" }))
	require.NoError(t, err)
	receipt, err := store.RunInTransaction(context.Background(), manufacturerAdmin, func(domain.TxContext) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "fixed", receipt.TxID)
}

func TestOpenPersistentStorePostgresUnreachable(t *testing.T) {
	_, err := OpenPersistentStore(config.LedgerConfig{
		Driver:      "postgres",
		PostgresDSN: "postgres://127.0.0.1:1/pharmanet?sslmode=disable&connect_timeout=1",
	})
	require.Error(t, err)
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	store, err := OpenPersistentStore(config.LedgerConfig{Driver: "gibberish"})
	require.ErrorContains(t, err, "unknown storage driver gibberish")
	assert.Nil(t, store)
}

func TestServiceSurvivesReopen(t *testing.T) {
	cfg := config.LedgerConfig{Driver: "leveldb", LevelDBPath: filepath.Join(t.TempDir(), "ledger")}
	store, err := OpenPersistentStore(cfg)
	require.NoError(t, err)
	svc := NewService(store, nil)
	ctx := context.Background()
	_, _, err = svc.RegisterCompany(ctx, manufacturerAdmin, "MAN001", "Acme", "Mumbai", "Manufacturer")
	require.NoError(t, err)
	_, _, err = svc.AddDrug(ctx, manufacturerAdmin, "Paracetamol", "001", "2024-01-01", "2026-01-01", "MAN001")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = OpenPersistentStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	svc = NewService(store, nil)
	drug, err := svc.ViewDrugCurrentState(ctx, consumerUser, "Paracetamol", "001")
	require.NoError(t, err)
	assert.Equal(t, domain.OwnerCompany(acme(t)), drug.Owner)

	_, _, err = svc.AddDrug(ctx, manufacturerAdmin, "Paracetamol", "001", "2024-01-01", "2026-01-01", "MAN001")
	require.ErrorIs(t, err, domain.ErrDuplicate)
}
