// Package memory provides the in-process ledger used for tests and ephemeral
// environments. It is also the transaction engine behind every durable local
// backend: those wrap it, persist each commit through a CommitHook, and
// rebuild it on startup by replaying their commit log.
package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pharmanet/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.TxContext       = (*transaction)(nil)
	_ domain.Ledger          = (*transaction)(nil)
)

// Write is one key assignment inside a commit.
type Write struct {
	Key   domain.Key `cbor:"k"`
	Value []byte     `cbor:"v"`
}

// Commit is one block of the local ledger: the writes of a single
// transaction in the order they were staged.
type Commit struct {
	Height     uint64    `cbor:"h"`
	TxID       string    `cbor:"tx"`
	Timestamp  time.Time `cbor:"ts"`
	CreatorMSP string    `cbor:"msp"`
	Creator    string    `cbor:"id"`
	Writes     []Write   `cbor:"w"`
}

// Snapshot is the full commit log. Replaying it reproduces world state and
// history exactly.
type Snapshot struct {
	Commits []Commit `cbor:"commits"`
}

// Height returns the height of the last commit in the snapshot.
func (s Snapshot) Height() uint64 {
	if len(s.Commits) == 0 {
		return 0
	}
	return s.Commits[len(s.Commits)-1].Height
}

// CommitHook runs under the store's write lock after validation and before a
// commit becomes visible. A hook error aborts the commit.
type CommitHook func(ctx context.Context, commit Commit) error

type entry struct {
	value   []byte
	version uint64
}

// Store is an MVCC key-value ledger with optimistic concurrency control.
type Store struct {
	mu      sync.RWMutex
	state   map[domain.Key]entry
	keys    []domain.Key
	history map[domain.Key][]domain.HistoryEntry
	commits []Commit

	nowFn  func() time.Time
	txIDFn func() string
	hook   CommitHook
	log    zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the transaction timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

// WithTxIDs overrides transaction id generation.
func WithTxIDs(next func() string) Option {
	return func(s *Store) { s.txIDFn = next }
}

// WithCommitHook installs a hook run before each commit is applied.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.hook = hook }
}

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore constructs an empty ledger.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state:   make(map[domain.Key]entry),
		history: make(map[domain.Key][]domain.HistoryEntry),
		nowFn:   time.Now,
		txIDFn:  uuid.NewString,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCommitHook replaces the commit hook. Durable stores install theirs after
// replaying persisted commits so replay does not persist them again.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// Height returns the height of the latest commit.
func (s *Store) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heightLocked()
}

func (s *Store) heightLocked() uint64 {
	if len(s.commits) == 0 {
		return 0
	}
	return s.commits[len(s.commits)-1].Height
}

// RunInTransaction executes fn against the ledger and commits its writes if
// every key and range it read is unchanged. Errors returned by fn abort the
// transaction without side effects.
func (s *Store) RunInTransaction(ctx context.Context, caller domain.Identity, fn func(domain.TxContext) error) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}
	tx := s.begin(caller, false)
	if err := fn(tx); err != nil {
		return domain.Receipt{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}
	return s.commit(ctx, tx)
}

// View executes fn against the ledger without allowing writes.
func (s *Store) View(ctx context.Context, caller domain.Identity, fn func(domain.TxContext) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s.begin(caller, true))
}

// Close releases nothing; it exists to satisfy domain.PersistentStore.
func (s *Store) Close() error { return nil }

func (s *Store) begin(caller domain.Identity, readOnly bool) *transaction {
	return &transaction{
		store:    s,
		txID:     s.txIDFn(),
		ts:       s.nowFn().UTC(),
		caller:   caller,
		readOnly: readOnly,
		reads:    make(map[domain.Key]uint64),
		writes:   make(map[domain.Key][]byte),
	}
}

func (s *Store) commit(ctx context.Context, tx *transaction) (domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateLocked(tx); err != nil {
		s.log.Debug().Str("tx_id", tx.txID).Err(err).Msg("transaction invalidated")
		return domain.Receipt{}, err
	}
	receipt := domain.Receipt{TxID: tx.txID, Height: s.heightLocked(), Timestamp: tx.ts}
	if len(tx.order) == 0 {
		return receipt, nil
	}

	commit := Commit{
		Height:    s.heightLocked() + 1,
		TxID:      tx.txID,
		Timestamp: tx.ts,
		Writes:    make([]Write, 0, len(tx.order)),
	}
	if tx.caller != nil {
		commit.CreatorMSP, _ = tx.caller.GetMSPID()
		commit.Creator, _ = tx.caller.GetID()
	}
	for _, key := range tx.order {
		commit.Writes = append(commit.Writes, Write{Key: key, Value: tx.writes[key]})
	}
	if s.hook != nil {
		if err := s.hook(ctx, commit); err != nil {
			return domain.Receipt{}, fmt.Errorf("persist commit %d: %w", commit.Height, err)
		}
	}
	s.applyLocked(commit)
	s.log.Debug().Str("tx_id", commit.TxID).Uint64("height", commit.Height).Int("writes", len(commit.Writes)).Msg("committed")

	receipt.Height = commit.Height
	receipt.Writes = len(commit.Writes)
	return receipt, nil
}

func (s *Store) validateLocked(tx *transaction) error {
	for key, seen := range tx.reads {
		if s.state[key].version != seen {
			return &domain.Error{Kind: domain.KindConflict, Key: key, Detail: "read version superseded by a concurrent commit"}
		}
	}
	for _, rr := range tx.ranges {
		current := s.rangeLocked(rr.prefix)
		if len(current) != len(rr.seen) {
			return &domain.Error{Kind: domain.KindConflict, Key: rr.prefix, Detail: "phantom read in range"}
		}
		for i, kv := range current {
			if kv.key != rr.seen[i].key || kv.version != rr.seen[i].version {
				return &domain.Error{Kind: domain.KindConflict, Key: kv.key, Detail: "range entry superseded by a concurrent commit"}
			}
		}
	}
	return nil
}

func (s *Store) applyLocked(c Commit) {
	for _, w := range c.Writes {
		if _, exists := s.state[w.Key]; !exists {
			idx, _ := slices.BinarySearch(s.keys, w.Key)
			s.keys = slices.Insert(s.keys, idx, w.Key)
		}
		s.state[w.Key] = entry{value: w.Value, version: c.Height}
		s.history[w.Key] = append(s.history[w.Key], domain.HistoryEntry{
			TxID:      c.TxID,
			Timestamp: c.Timestamp,
			Value:     w.Value,
		})
	}
	s.commits = append(s.commits, c)
}

type keyVersion struct {
	key     domain.Key
	value   []byte
	version uint64
}

func (s *Store) rangeLocked(prefix domain.Key) []keyVersion {
	start, _ := slices.BinarySearch(s.keys, prefix)
	var out []keyVersion
	for _, k := range s.keys[start:] {
		if !k.HasPrefix(prefix) {
			break
		}
		e := s.state[k]
		out = append(out, keyVersion{key: k, value: e.value, version: e.version})
	}
	return out
}

// ExportState returns a copy of the commit log.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Commits: cloneCommits(s.commits)}
}

// ImportState replaces the ledger with the replay of snapshot. Commit heights
// must be contiguous from 1. The commit hook is not invoked.
func (s *Store) ImportState(snapshot Snapshot) error {
	if err := checkHeights(snapshot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = make(map[domain.Key]entry)
	s.history = make(map[domain.Key][]domain.HistoryEntry)
	s.keys = nil
	s.commits = nil
	for _, c := range cloneCommits(snapshot.Commits) {
		s.applyLocked(c)
	}
	s.log.Debug().Int("commits", len(snapshot.Commits)).Msg("state imported")
	return nil
}

// Restore replays snapshot into an empty ledger through the commit hook, so
// a durable backend persists every restored commit.
func (s *Store) Restore(ctx context.Context, snapshot Snapshot) error {
	if err := checkHeights(snapshot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h := s.heightLocked(); h != 0 {
		return fmt.Errorf("restore needs an empty ledger, found height %d", h)
	}
	for _, c := range cloneCommits(snapshot.Commits) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.hook != nil {
			if err := s.hook(ctx, c); err != nil {
				return fmt.Errorf("persist restored commit %d: %w", c.Height, err)
			}
		}
		s.applyLocked(c)
	}
	s.log.Debug().Int("commits", len(snapshot.Commits)).Msg("state restored")
	return nil
}

func checkHeights(snapshot Snapshot) error {
	for i, c := range snapshot.Commits {
		if c.Height != uint64(i+1) {
			return fmt.Errorf("snapshot commit %d has height %d", i, c.Height)
		}
	}
	return nil
}

func cloneCommits(in []Commit) []Commit {
	out := make([]Commit, len(in))
	for i, c := range in {
		c.Writes = slices.Clone(c.Writes)
		out[i] = c
	}
	return out
}

type rangeRead struct {
	prefix domain.Key
	seen   []keyVersion
}

type transaction struct {
	store    *Store
	txID     string
	ts       time.Time
	caller   domain.Identity
	readOnly bool

	reads  map[domain.Key]uint64
	ranges []rangeRead
	writes map[domain.Key][]byte
	order  []domain.Key
}

func (tx *transaction) Ledger() domain.Ledger         { return tx }
func (tx *transaction) Caller() domain.Identity       { return tx.caller }
func (tx *transaction) TxID() string                  { return tx.txID }
func (tx *transaction) Timestamp() (time.Time, error) { return tx.ts, nil }

// GetState returns the committed value of key. Like a Fabric peer, it does
// not observe the transaction's own pending writes.
func (tx *transaction) GetState(key domain.Key) ([]byte, error) {
	tx.store.mu.RLock()
	e, ok := tx.store.state[key]
	tx.store.mu.RUnlock()
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = e.version
	}
	if !ok {
		return nil, nil
	}
	return slices.Clone(e.value), nil
}

// PutState stages a write.
func (tx *transaction) PutState(key domain.Key, value []byte) error {
	if tx.readOnly {
		return domain.ErrReadOnly
	}
	if _, _, err := key.Split(); err != nil {
		return err
	}
	if _, staged := tx.writes[key]; !staged {
		tx.order = append(tx.order, key)
	}
	tx.writes[key] = slices.Clone(value)
	return nil
}

// ScanPrefix yields committed records under the composite prefix. The result
// set is captured when iteration starts and recorded for phantom detection.
func (tx *transaction) ScanPrefix(namespace string, attrs ...string) iter.Seq2[domain.KV, error] {
	return func(yield func(domain.KV, error) bool) {
		prefix, err := domain.CompositeKey(namespace, attrs...)
		if err != nil {
			yield(domain.KV{}, err)
			return
		}
		tx.store.mu.RLock()
		matched := tx.store.rangeLocked(prefix)
		tx.store.mu.RUnlock()
		tx.ranges = append(tx.ranges, rangeRead{prefix: prefix, seen: matched})
		for _, kv := range matched {
			if !yield(domain.KV{Key: kv.key, Value: slices.Clone(kv.value)}, nil) {
				return
			}
		}
	}
}

// History yields every committed value of key, oldest first.
func (tx *transaction) History(key domain.Key) iter.Seq2[domain.HistoryEntry, error] {
	return func(yield func(domain.HistoryEntry, error) bool) {
		tx.store.mu.RLock()
		entries := slices.Clone(tx.store.history[key])
		tx.store.mu.RUnlock()
		for _, e := range entries {
			e.Value = slices.Clone(e.Value)
			if !yield(e, nil) {
				return
			}
		}
	}
}
