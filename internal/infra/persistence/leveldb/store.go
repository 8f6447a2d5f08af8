// Package leveldb provides a LevelDB-backed local ledger. Commits are stored
// as CBOR blocks keyed by zero-padded height so a prefix iteration replays
// them in order.
package leveldb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goleveldb "github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"pharmanet/internal/codec"
	"pharmanet/internal/infra/persistence/memory"
	"pharmanet/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultPath = "pharmanet-ledger"

	blockPrefix = "block/"
	txPrefix    = "tx/"
	heightKey   = "meta/height"
)

func blockKey(height uint64) []byte {
	return fmt.Appendf(nil, "%s%020d", blockPrefix, height)
}

func txKey(txID string) []byte {
	return []byte(txPrefix + txID)
}

// Store keeps the commit log in LevelDB and serves reads from the in-memory
// engine rebuilt on open.
type Store struct {
	*memory.Store
	db   *goleveldb.DB
	path string
}

// NewStore opens (creating if needed) the database directory at path and
// replays its blocks.
func NewStore(path string, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	db, err := goleveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	snapshot, err := loadBlocks(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(opts...)
	if err := mem.ImportState(snapshot); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("replay blocks: %w", err)
	}
	s := &Store{Store: mem, db: db, path: path}
	mem.SetCommitHook(s.persist)
	return s, nil
}

func loadBlocks(db *goleveldb.DB) (memory.Snapshot, error) {
	var snapshot memory.Snapshot
	iter := db.NewIterator(util.BytesPrefix([]byte(blockPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var c memory.Commit
		if err := codec.Unmarshal(iter.Value(), &c); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		snapshot.Commits = append(snapshot.Commits, c)
	}
	if err := iter.Error(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate blocks: %w", err)
	}

	recorded, err := readHeight(db)
	if err != nil {
		return memory.Snapshot{}, err
	}
	if recorded != snapshot.Height() {
		return memory.Snapshot{}, fmt.Errorf("height marker %d does not match last block %d", recorded, snapshot.Height())
	}
	return snapshot, nil
}

func readHeight(db *goleveldb.DB) (uint64, error) {
	raw, err := db.Get([]byte(heightKey), nil)
	if errors.Is(err, goleveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read height: %w", err)
	}
	h, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode height: %w", err)
	}
	return h, nil
}

// persist writes the block, its transaction index entry and the height
// marker in one synced batch.
func (s *Store) persist(_ context.Context, c memory.Commit) error {
	payload, err := codec.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", c.Height, err)
	}
	batch := new(goleveldb.Batch)
	batch.Put(blockKey(c.Height), payload)
	batch.Put(txKey(c.TxID), strconv.AppendUint(nil, c.Height, 10))
	batch.Put([]byte(heightKey), strconv.AppendUint(nil, c.Height, 10))
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("write block %d: %w", c.Height, err)
	}
	return nil
}

// CommitByTxID returns the block that recorded txID.
func (s *Store) CommitByTxID(txID string) (memory.Commit, error) {
	raw, err := s.db.Get(txKey(txID), nil)
	if errors.Is(err, goleveldb.ErrNotFound) {
		return memory.Commit{}, &domain.Error{Kind: domain.KindNotFound, Detail: "transaction " + txID}
	}
	if err != nil {
		return memory.Commit{}, fmt.Errorf("lookup tx %s: %w", txID, err)
	}
	h, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return memory.Commit{}, fmt.Errorf("decode tx index %s: %w", txID, err)
	}
	payload, err := s.db.Get(blockKey(h), nil)
	if err != nil {
		return memory.Commit{}, fmt.Errorf("read block %d: %w", h, err)
	}
	var c memory.Commit
	if err := codec.Unmarshal(payload, &c); err != nil {
		return memory.Commit{}, fmt.Errorf("decode block %d: %w", h, err)
	}
	return c, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database directory.
func (s *Store) Path() string { return s.path }
