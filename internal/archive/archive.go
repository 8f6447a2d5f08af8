// Package archive stores snapshots of a local ledger's commit log in a blob
// store. A snapshot is the CBOR encoded commit log, zstd compressed, and
// addressed by its height and export time. Every snapshot carries a keyed
// BLAKE3 digest that is checked before the payload is decompressed.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"pharmanet/internal/blob"
	"pharmanet/internal/codec"
	"pharmanet/internal/infra/persistence/memory"
	"pharmanet/pkg/logger"
)

// Prefix is the blob key prefix of every snapshot.
const Prefix = "ledger/snapshots/"

const (
	contentType   = "application/zstd"
	formatVersion = 1

	metaDigest  = "digest"
	metaHeight  = "height"
	metaCommits = "commits"
	metaFormat  = "format"
)

var (
	// ErrDigestMismatch reports a payload whose digest differs from the one
	// recorded at export.
	ErrDigestMismatch = errors.New("archive: snapshot digest mismatch")
	// ErrEmptyLedger is returned when exporting a ledger with no commits.
	ErrEmptyLedger = errors.New("archive: ledger has no commits")
	// ErrNoSnapshots is returned by Latest when nothing has been archived.
	ErrNoSnapshots = errors.New("archive: no snapshots stored")
)

// Source is a ledger whose commit log can be exported.
type Source interface {
	ExportState() memory.Snapshot
}

// Target is a ledger a snapshot can be restored into.
type Target interface {
	Restore(ctx context.Context, snapshot memory.Snapshot) error
}

// Manifest describes one stored snapshot.
type Manifest struct {
	Key        string    `json:"key"`
	Height     uint64    `json:"height"`
	Commits    int       `json:"commits"`
	Digest     string    `json:"digest"`
	Size       int64     `json:"size_bytes"`
	ExportedAt time.Time `json:"exported_at"`
}

type envelope struct {
	Format     int             `cbor:"format"`
	ExportedAt time.Time       `cbor:"exported_at"`
	Snapshot   memory.Snapshot `cbor:"snapshot"`
}

// Archiver writes and reads snapshots.
type Archiver struct {
	store blob.Store
	log   *logger.Logger
	now   func() time.Time
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger sets the archiver logger.
func WithLogger(l *logger.Logger) Option {
	return func(a *Archiver) { a.log = l.Component("archive") }
}

// WithClock overrides the export time source.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// New returns an Archiver over store.
func New(store blob.Store, opts ...Option) *Archiver {
	a := &Archiver{store: store, log: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SnapshotKey is the blob key of a snapshot at height exported at t. Heights
// are zero padded so keys sort in height order.
func SnapshotKey(height uint64, t time.Time) string {
	return fmt.Sprintf("%s%020d-%d.cbor.zst", Prefix, height, t.Unix())
}

func parseKey(key string) (height uint64, exportedAt time.Time, err error) {
	name, ok := strings.CutPrefix(key, Prefix)
	if ok {
		name, ok = strings.CutSuffix(name, ".cbor.zst")
	}
	h, unix, found := strings.Cut(name, "-")
	if !ok || !found {
		return 0, time.Time{}, fmt.Errorf("%s is not a snapshot key", key)
	}
	if height, err = strconv.ParseUint(h, 10, 64); err != nil {
		return 0, time.Time{}, fmt.Errorf("snapshot key %s: height: %w", key, err)
	}
	secs, err := strconv.ParseInt(unix, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("snapshot key %s: time: %w", key, err)
	}
	return height, time.Unix(secs, 0).UTC(), nil
}

// Export archives the full commit log of src.
func (a *Archiver) Export(ctx context.Context, src Source) (Manifest, error) {
	snapshot := src.ExportState()
	if len(snapshot.Commits) == 0 {
		return Manifest{}, ErrEmptyLedger
	}
	exportedAt := a.now().UTC().Truncate(time.Second)
	raw, err := codec.Marshal(envelope{Format: formatVersion, ExportedAt: exportedAt, Snapshot: snapshot})
	if err != nil {
		return Manifest{}, fmt.Errorf("encode snapshot: %w", err)
	}
	payload := compress(raw)
	m := Manifest{
		Key:        SnapshotKey(snapshot.Height(), exportedAt),
		Height:     snapshot.Height(),
		Commits:    len(snapshot.Commits),
		Digest:     Digest(payload),
		Size:       int64(len(payload)),
		ExportedAt: exportedAt,
	}
	_, err = a.store.Put(ctx, m.Key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			metaDigest:  m.Digest,
			metaHeight:  strconv.FormatUint(m.Height, 10),
			metaCommits: strconv.Itoa(m.Commits),
			metaFormat:  strconv.Itoa(formatVersion),
		},
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("store snapshot %s: %w", m.Key, err)
	}
	a.log.Info().
		Str("key", m.Key).
		Uint64("height", m.Height).
		Int("raw_bytes", len(raw)).
		Int64("stored_bytes", m.Size).
		Msg("snapshot exported")
	return m, nil
}

func manifestFromInfo(info blob.Info) (Manifest, error) {
	height, exportedAt, err := parseKey(info.Key)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{Key: info.Key, Height: height, Size: info.Size, ExportedAt: exportedAt}
	if info.Metadata == nil {
		return m, nil
	}
	m.Digest = info.Metadata[metaDigest]
	if v, ok := info.Metadata[metaHeight]; ok && v != strconv.FormatUint(height, 10) {
		return Manifest{}, fmt.Errorf("snapshot %s: metadata height %s disagrees with key", info.Key, v)
	}
	if v, ok := info.Metadata[metaCommits]; ok {
		if m.Commits, err = strconv.Atoi(v); err != nil {
			return Manifest{}, fmt.Errorf("snapshot %s: commits: %w", info.Key, err)
		}
	}
	return m, nil
}

// Load fetches and decodes the snapshot at key. The digest is checked before
// anything is decompressed.
func (a *Archiver) Load(ctx context.Context, key string) (memory.Snapshot, Manifest, error) {
	info, body, err := a.store.Get(ctx, key)
	if err != nil {
		return memory.Snapshot{}, Manifest{}, fmt.Errorf("fetch snapshot %s: %w", key, err)
	}
	payload, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil {
		return memory.Snapshot{}, Manifest{}, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	m, err := manifestFromInfo(info)
	if err != nil {
		return memory.Snapshot{}, Manifest{}, err
	}
	if !validDigest(m.Digest) {
		return memory.Snapshot{}, Manifest{}, fmt.Errorf("snapshot %s: missing or malformed digest %q", key, m.Digest)
	}
	if got := Digest(payload); got != m.Digest {
		return memory.Snapshot{}, Manifest{}, fmt.Errorf("%w: %s recorded %s, computed %s", ErrDigestMismatch, key, m.Digest, got)
	}
	m.Size = int64(len(payload))

	raw, err := decompress(payload)
	if err != nil {
		return memory.Snapshot{}, Manifest{}, fmt.Errorf("snapshot %s: %w", key, err)
	}
	var env envelope
	if err := codec.Unmarshal(raw, &env); err != nil {
		return memory.Snapshot{}, Manifest{}, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	if env.Format != formatVersion {
		return memory.Snapshot{}, Manifest{}, fmt.Errorf("snapshot %s: unsupported format %d", key, env.Format)
	}
	if h := env.Snapshot.Height(); h != m.Height {
		return memory.Snapshot{}, Manifest{}, fmt.Errorf("snapshot %s: key height %d, payload height %d", key, m.Height, h)
	}
	m.Commits = len(env.Snapshot.Commits)
	return env.Snapshot, m, nil
}

// Verify loads the snapshot at key and replays it into a scratch ledger.
func (a *Archiver) Verify(ctx context.Context, key string) (Manifest, error) {
	snapshot, m, err := a.Load(ctx, key)
	if err != nil {
		return Manifest{}, err
	}
	if err := memory.NewStore().ImportState(snapshot); err != nil {
		return Manifest{}, fmt.Errorf("replay snapshot %s: %w", key, err)
	}
	a.log.Debug().Str("key", key).Uint64("height", m.Height).Msg("snapshot verified")
	return m, nil
}

// Restore replays the snapshot at key into dst, which must be empty.
func (a *Archiver) Restore(ctx context.Context, key string, dst Target) (Manifest, error) {
	snapshot, m, err := a.Load(ctx, key)
	if err != nil {
		return Manifest{}, err
	}
	if err := dst.Restore(ctx, snapshot); err != nil {
		return Manifest{}, fmt.Errorf("restore %s: %w", key, err)
	}
	a.log.Info().Str("key", key).Uint64("height", m.Height).Msg("snapshot restored")
	return m, nil
}

// List returns the stored snapshots, lowest height first.
func (a *Archiver) List(ctx context.Context) ([]Manifest, error) {
	infos, err := a.store.List(ctx, Prefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]Manifest, 0, len(infos))
	for _, info := range infos {
		m, err := manifestFromInfo(info)
		if err != nil {
			a.log.Warn().Str("key", info.Key).Err(err).Msg("skipping foreign blob")
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Latest returns the snapshot with the greatest height, the most recent
// export breaking ties.
func (a *Archiver) Latest(ctx context.Context) (Manifest, error) {
	all, err := a.List(ctx)
	if err != nil {
		return Manifest{}, err
	}
	if len(all) == 0 {
		return Manifest{}, ErrNoSnapshots
	}
	return all[len(all)-1], nil
}
