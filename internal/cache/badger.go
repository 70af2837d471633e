// Package cache implements the object cache client and the memoization
// layer on top of it. Caching here is a performance optimization, never a
// correctness dependency: every client failure degrades to a miss.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrMiss is returned by Client.Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Client is the object cache boundary: get/set/touch by opaque binary key
// with a TTL. Implementations must tolerate payloads up to snapshot size.
type Client interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte, ttl time.Duration) error
	Touch(ctx context.Context, key []byte, ttl time.Duration) error
	Close() error
}

// Config holds the settings for the embedded badger cache.
type Config struct {
	// Path is the directory for the badger files. Ignored when InMemory.
	Path string
	// InMemory disables disk persistence; used in tests.
	InMemory bool
	// SyncWrites trades write latency for durability. A cache does not need
	// it, so the default is false.
	SyncWrites bool
	// Logger receives badger's internal messages. Nil silences them.
	Logger *slog.Logger
}

// BadgerCache is a Client backed by an embedded badger instance.
type BadgerCache struct {
	db  *badger.DB
	log *slog.Logger
}

// NewBadgerCache opens the badger store described by cfg.
func NewBadgerCache(cfg Config) (*BadgerCache, error) {
	const op = "internal.cache.NewBadgerCache"

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open badger: %w", op, err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &BadgerCache{db: db, log: log}, nil
}

func (c *BadgerCache) Get(ctx context.Context, key []byte) ([]byte, error) {
	const op = "internal.cache.BadgerCache.Get"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var value []byte

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)

		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrMiss
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return value, nil
}

func (c *BadgerCache) Set(ctx context.Context, key, value []byte, ttl time.Duration) error {
	const op = "internal.cache.BadgerCache.Set"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}

		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Touch resets the expiration of an existing entry. Badger has no native
// touch, so the entry is rewritten with a fresh TTL.
func (c *BadgerCache) Touch(ctx context.Context, key []byte, ttl time.Duration) error {
	const op = "internal.cache.BadgerCache.Touch"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		entry := badger.NewEntry(key, value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}

		return txn.SetEntry(entry)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrMiss
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...), slog.String("source", "badger"))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...), slog.String("source", "badger"))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), slog.String("source", "badger"))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), slog.String("source", "badger"))
}
