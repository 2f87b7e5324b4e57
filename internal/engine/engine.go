package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coffersTech/loghell/internal/cluster"
	"github.com/coffersTech/loghell/internal/index"
	"github.com/coffersTech/loghell/internal/metrics"
	"github.com/coffersTech/loghell/internal/model"
	"github.com/coffersTech/loghell/internal/storage"
	"github.com/rs/zerolog"
)

// keyAttempts bounds how many random keys Store draws before giving up.
const keyAttempts = 8

var (
	// ErrInconsistent means the index references a key storage does not have.
	ErrInconsistent = errors.New("index references a missing entry")
	// ErrKeySpace means no unused key was found.
	ErrKeySpace = errors.New("failed to allocate an unused key")
)

// Publisher receives every entry stored locally.
type Publisher interface {
	HasSubscribers() bool
	Publish(msg cluster.Message) error
}

// LogStorage pairs a storage backend with an index. All operations are
// serialized by one mutex, so the index never references a key that
// storage does not hold.
type LogStorage struct {
	mu      sync.Mutex
	index   index.Index
	storage storage.Storage
	pub     Publisher
	newKey  func() model.Key

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// Options configures Open.
type Options struct {
	Index     index.Options
	Storage   storage.Options
	Publisher Publisher
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Open builds both backends from opts and restores the index from storage.
func Open(ctx context.Context, opts Options) (*LogStorage, error) {
	idx, err := index.New(opts.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	st, err := storage.New(ctx, opts.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	ls, err := New(ctx, idx, st, opts.Publisher, opts.Logger, opts.Metrics)
	if err != nil {
		st.Close()
		return nil, err
	}
	return ls, nil
}

// New wraps idx and st and rebuilds idx from everything st holds. pub may
// be nil when nothing listens for new entries.
func New(ctx context.Context, idx index.Index, st storage.Storage, pub Publisher, log zerolog.Logger, m *metrics.Metrics) (*LogStorage, error) {
	ls := &LogStorage{
		index:   idx,
		storage: st,
		pub:     pub,
		newKey:  model.NewKey,
		log:     log,
		metrics: m,
	}
	if err := ls.restore(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore index: %w", err)
	}
	return ls, nil
}

func (ls *LogStorage) restore(ctx context.Context) error {
	var restored, skipped int
	err := ls.storage.List(ctx, func(key model.Key, data []byte) error {
		if err := ls.index.Index(key, data); err != nil {
			if errors.Is(err, index.ErrDecode) {
				skipped++
				ls.log.Warn().Err(err).Stringer("key", key).Msg("skipping undecodable entry")
				return nil
			}
			return err
		}
		restored++
		return nil
	})
	if err != nil {
		return err
	}
	ls.log.Info().Int("restored", restored).Int("skipped", skipped).Msg("index restored")
	return nil
}

// Store persists and indexes entry, then publishes it to cluster links.
// An entry the index rejects is removed from storage again.
func (ls *LogStorage) Store(ctx context.Context, entry []byte) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if _, err := ls.put(ctx, entry); err != nil {
		return err
	}
	ls.metrics.EntryStored()

	if ls.pub == nil || !ls.pub.HasSubscribers() {
		return nil
	}
	if err := ls.pub.Publish(cluster.NewLog(bytes.Clone(entry))); err != nil {
		ls.metrics.StoreFailed(metrics.ReasonPublish)
		return fmt.Errorf("failed to publish entry: %w", err)
	}
	return nil
}

// Replicate stores an entry received from a peer. It is never published,
// so entries do not bounce between nodes.
func (ls *LogStorage) Replicate(ctx context.Context, entry []byte) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	_, err := ls.put(ctx, entry)
	return err
}

func (ls *LogStorage) put(ctx context.Context, entry []byte) (model.Key, error) {
	key, err := ls.allocKey(ctx)
	if err != nil {
		ls.metrics.StoreFailed(metrics.ReasonBackend)
		return 0, err
	}
	if err := ls.storage.Write(ctx, key, entry); err != nil {
		ls.metrics.StoreFailed(metrics.ReasonBackend)
		return 0, err
	}
	if err := ls.index.Index(key, entry); err != nil {
		if derr := ls.storage.Delete(ctx, key); derr != nil {
			ls.log.Error().Err(derr).Stringer("key", key).Msg("failed to roll back unindexed entry")
		}
		if errors.Is(err, index.ErrDecode) {
			ls.metrics.StoreFailed(metrics.ReasonDecode)
		} else {
			ls.metrics.StoreFailed(metrics.ReasonBackend)
		}
		return 0, err
	}
	return key, nil
}

// allocKey draws random keys until one is not present in storage.
func (ls *LogStorage) allocKey(ctx context.Context) (model.Key, error) {
	for range keyAttempts {
		key := ls.newKey()
		_, err := ls.storage.Read(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			return key, nil
		}
		if err != nil {
			return 0, err
		}
		ls.log.Warn().Stringer("key", key).Msg("key collision")
	}
	return 0, ErrKeySpace
}

// Find returns the entries matching query indexed at or after skip.
// Unknown fields and values give an empty result.
func (ls *LogStorage) Find(ctx context.Context, query string, skip model.Watermark) ([][]byte, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.find(ctx, query, skip)
}

// Tail is Find plus the watermark to pass on the next call. Every entry is
// returned by exactly one call in a chain of Tail calls.
func (ls *LogStorage) Tail(ctx context.Context, query string, skip model.Watermark) ([][]byte, model.Watermark, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	next := ls.index.Watermark()
	found, err := ls.find(ctx, query, skip)
	if err != nil {
		return nil, skip, err
	}
	return found, next, nil
}

func (ls *LogStorage) find(ctx context.Context, query string, skip model.Watermark) ([][]byte, error) {
	keys, err := ls.index.Find(query, skip)
	if errors.Is(err, index.ErrNotFound) {
		return [][]byte{}, nil
	}
	if err != nil {
		return nil, err
	}

	found := make([][]byte, 0, len(keys))
	for _, key := range keys {
		data, err := ls.storage.Read(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			ls.log.Error().Stringer("key", key).Str("query", query).Msg("indexed entry is missing from storage")
			return nil, fmt.Errorf("%w: %s", ErrInconsistent, key)
		}
		if err != nil {
			return nil, err
		}
		found = append(found, data)
	}
	return found, nil
}

// Close releases the storage backend.
func (ls *LogStorage) Close() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.storage.Close()
}
