package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmanet/internal/codec"
	"pharmanet/internal/infra/persistence/memory"
	"pharmanet/internal/infra/persistence/postgres/testutil"
	"pharmanet/pkg/domain"
)

var admin = domain.LocalIdentity{ID: "x509::CN=admin", MSPID: "distributorMSP"}

func openWithStub(t *testing.T, db *sql.DB) *Store {
	t.Helper()
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		assert.Equal(t, "pgx", driverName)
		assert.Equal(t, defaultDSN, dsn)
		return db, nil
	})
	defer restore()
	store, err := NewStore("", memory.WithClock(func() time.Time {
		return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)
	return store
}

func orderKey(t *testing.T) domain.Key {
	t.Helper()
	k, err := domain.PurchaseOrderKey("DIST001", "Paracetamol")
	require.NoError(t, err)
	return k
}

func putOrder(t *testing.T, s *Store, v string) error {
	t.Helper()
	_, err := s.RunInTransaction(context.Background(), admin, func(tx domain.TxContext) error {
		return tx.Ledger().PutState(orderKey(t), []byte(v))
	})
	return err
}

func TestNewStoreCreatesTableAndPersistsCommits(t *testing.T) {
	db, conn := testutil.NewStubDB()
	store := openWithStub(t, db)

	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS LEDGER_COMMITS") {
			sawDDL = true
		}
	}
	assert.True(t, sawDDL, "expected commit table DDL, got %v", conn.Execs)

	require.NoError(t, putOrder(t, store, "po-1"))
	require.NoError(t, putOrder(t, store, "po-2"))
	rows := conn.Tables["ledger_commits"]
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0]["height"])

	var first memory.Commit
	require.NoError(t, codec.Unmarshal(rows[0]["payload"].([]byte), &first))
	assert.Equal(t, "distributorMSP", first.CreatorMSP)
	require.Len(t, first.Writes, 1)
	assert.Equal(t, orderKey(t), first.Writes[0].Key)
}

func TestNewStoreReplaysCommitLog(t *testing.T) {
	db, _ := testutil.NewStubDB()
	seed := openWithStub(t, db)
	require.NoError(t, putOrder(t, seed, "po-1"))
	require.NoError(t, putOrder(t, seed, "po-2"))

	reloaded := openWithStub(t, db)
	assert.Equal(t, uint64(2), reloaded.Height())
	require.NoError(t, reloaded.View(context.Background(), admin, func(tx domain.TxContext) error {
		got, err := tx.Ledger().GetState(orderKey(t))
		require.NoError(t, err)
		assert.Equal(t, "po-2", string(got))
		return nil
	}))
}

func TestPersistFailureKeepsCommitInvisible(t *testing.T) {
	tests := []struct {
		name string
		fail func(*testutil.StubConn)
	}{
		{"begin", func(c *testutil.StubConn) { c.FailBegin = true }},
		{"insert", func(c *testutil.StubConn) { c.FailTables = map[string]bool{"ledger_commits": true} }},
		{"commit", func(c *testutil.StubConn) { c.FailCommit = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, conn := testutil.NewStubDB()
			store := openWithStub(t, db)
			tt.fail(conn)
			require.Error(t, putOrder(t, store, "po-1"))
			assert.Zero(t, store.Height())
		})
	}
}

func TestNewStoreErrors(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("no driver") })
		defer restore()
		_, err := NewStore("postgres://example")
		assert.ErrorContains(t, err, "open postgres")
	})
	t.Run("ping", func(t *testing.T) {
		db, conn := testutil.NewStubDB()
		conn.FailExec = true
		restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
		defer restore()
		_, err := NewStore("")
		assert.ErrorContains(t, err, "ping postgres")
	})
	t.Run("select", func(t *testing.T) {
		db, conn := testutil.NewStubDB()
		conn.FailTables = map[string]bool{"ledger_commits": true}
		restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
		defer restore()
		_, err := NewStore("")
		assert.ErrorContains(t, err, "select commits")
	})
	t.Run("corrupt payload", func(t *testing.T) {
		db, conn := testutil.NewStubDB()
		conn.Tables["ledger_commits"] = []map[string]any{{"height": int64(1), "payload": []byte{0xff}}}
		restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
		defer restore()
		_, err := NewStore("")
		assert.ErrorContains(t, err, "decode commit 1")
	})
	t.Run("height mismatch", func(t *testing.T) {
		db, conn := testutil.NewStubDB()
		payload, err := codec.Marshal(memory.Commit{Height: 7})
		require.NoError(t, err)
		conn.Tables["ledger_commits"] = []map[string]any{{"height": int64(1), "payload": payload}}
		restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
		defer restore()
		_, err = NewStore("")
		assert.ErrorContains(t, err, "carries height 7")
	})
	t.Run("rows", func(t *testing.T) {
		db, conn := testutil.NewStubDB()
		conn.RowsErr = errors.New("network reset")
		restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
		defer restore()
		_, err := NewStore("")
		assert.ErrorContains(t, err, "iterate commits")
	})
}
