// Package sqlite provides a SQLite-backed local ledger.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"pharmanet/internal/infra/persistence/memory"
	"pharmanet/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "pharmanet.db"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS commits (
		height      INTEGER PRIMARY KEY,
		tx_id       TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		creator_msp TEXT NOT NULL,
		creator     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS versions (
		height INTEGER NOT NULL REFERENCES commits(height),
		seq    INTEGER NOT NULL,
		key    BLOB NOT NULL,
		value  BLOB,
		PRIMARY KEY (height, seq)
	)`,
}

const (
	insertCommit = `INSERT INTO commits(height, tx_id, created_at, creator_msp, creator)
		VALUES(:height, :tx_id, :created_at, :creator_msp, :creator)`
	insertVersions = `INSERT INTO versions(height, seq, key, value) VALUES(:height, :seq, :key, :value)`
)

type commitRow struct {
	Height     int64  `db:"height"`
	TxID       string `db:"tx_id"`
	CreatedAt  string `db:"created_at"`
	CreatorMSP string `db:"creator_msp"`
	Creator    string `db:"creator"`
}

type versionRow struct {
	Height int64  `db:"height"`
	Seq    int    `db:"seq"`
	Key    []byte `db:"key"`
	Value  []byte `db:"value"`
}

// Store appends every commit to the commits and versions tables before it
// becomes visible, and replays both tables into the in-memory engine on open.
type Store struct {
	*memory.Store
	db   *sqlx.DB
	path string
}

// NewStore opens (creating if needed) the database at path and replays its
// commit log. An empty path falls back to pharmanet.db.
func NewStore(path string, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers; the engine lock already does
	// the same for commits.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	snapshot, err := load(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(opts...)
	if err := mem.ImportState(snapshot); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("replay commit log: %w", err)
	}
	s := &Store{Store: mem, db: db, path: path}
	mem.SetCommitHook(s.persist)
	return s, nil
}

func load(ctx context.Context, db *sqlx.DB) (memory.Snapshot, error) {
	var commits []commitRow
	if err := db.SelectContext(ctx, &commits, `SELECT height, tx_id, created_at, creator_msp, creator FROM commits ORDER BY height`); err != nil {
		return memory.Snapshot{}, fmt.Errorf("select commits: %w", err)
	}
	var versions []versionRow
	if err := db.SelectContext(ctx, &versions, `SELECT height, seq, key, value FROM versions ORDER BY height, seq`); err != nil {
		return memory.Snapshot{}, fmt.Errorf("select versions: %w", err)
	}

	snapshot := memory.Snapshot{Commits: make([]memory.Commit, 0, len(commits))}
	index := make(map[int64]int, len(commits))
	for _, row := range commits {
		ts, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
		if err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode commit %d timestamp: %w", row.Height, err)
		}
		index[row.Height] = len(snapshot.Commits)
		snapshot.Commits = append(snapshot.Commits, memory.Commit{
			Height:     uint64(row.Height),
			TxID:       row.TxID,
			Timestamp:  ts,
			CreatorMSP: row.CreatorMSP,
			Creator:    row.Creator,
		})
	}
	for _, row := range versions {
		i, ok := index[row.Height]
		if !ok {
			return memory.Snapshot{}, fmt.Errorf("version %d/%d references missing commit", row.Height, row.Seq)
		}
		snapshot.Commits[i].Writes = append(snapshot.Commits[i].Writes, memory.Write{
			Key:   domain.Key(row.Key),
			Value: row.Value,
		})
	}
	return snapshot, nil
}

func (s *Store) persist(ctx context.Context, c memory.Commit) (retErr error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	row := commitRow{
		Height:     int64(c.Height),
		TxID:       c.TxID,
		CreatedAt:  c.Timestamp.UTC().Format(time.RFC3339Nano),
		CreatorMSP: c.CreatorMSP,
		Creator:    c.Creator,
	}
	if _, err := tx.NamedExecContext(ctx, insertCommit, row); err != nil {
		return fmt.Errorf("insert commit %d: %w", c.Height, err)
	}
	versions := make([]versionRow, len(c.Writes))
	for i, w := range c.Writes {
		versions[i] = versionRow{Height: row.Height, Seq: i, Key: []byte(w.Key), Value: w.Value}
	}
	if len(versions) > 0 {
		if _, err := tx.NamedExecContext(ctx, insertVersions, versions); err != nil {
			return fmt.Errorf("insert versions %d: %w", c.Height, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for integration testing hooks.
func (s *Store) DB() *sqlx.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
