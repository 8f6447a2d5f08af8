// Package postgres provides a Postgres-backed local ledger that shares the
// in-memory transaction engine and persists its commit log as CBOR rows.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"pharmanet/internal/codec"
	"pharmanet/internal/infra/persistence/memory"
	"pharmanet/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/pharmanet?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists each commit to the ledger_commits table before the
// in-memory engine makes it visible.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), ensures the commit table exists, and replays it.
func NewStore(dsn string, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureCommitTable(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadCommits(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(opts...)
	if err := mem.ImportState(snapshot); err != nil {
		return nil, fmt.Errorf("replay commit log: %w", err)
	}
	s := &Store{Store: mem, db: db}
	mem.SetCommitHook(s.persist)
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func ensureCommitTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS ledger_commits (
		height BIGINT PRIMARY KEY,
		tx_id TEXT NOT NULL,
		payload BYTEA NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure commit table: %w", err)
	}
	return nil
}

func loadCommits(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT height, payload FROM ledger_commits ORDER BY height`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select commits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	for rows.Next() {
		var height int64
		var payload []byte
		if err := rows.Scan(&height, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan commit: %w", err)
		}
		var c memory.Commit
		if err := codec.Unmarshal(payload, &c); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode commit %d: %w", height, err)
		}
		if c.Height != uint64(height) {
			return memory.Snapshot{}, fmt.Errorf("commit row %d carries height %d", height, c.Height)
		}
		snapshot.Commits = append(snapshot.Commits, c)
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate commits: %w", err)
	}
	return snapshot, nil
}

func (s *Store) persist(ctx context.Context, c memory.Commit) error {
	payload, err := codec.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode commit %d: %w", c.Height, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_commits(height, tx_id, payload) VALUES($1, $2, $3)`, int64(c.Height), c.TxID, payload); err != nil {
		return fmt.Errorf("insert commit %d: %w", c.Height, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
