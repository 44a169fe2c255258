package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"qr-spider/pkg/log"
	"qr-spider/pkg/models"
	"qr-spider/pkg/utils"
)

const (
	urlKeyPrefix     = "url:"      // Image URL keys
	contentKeyPrefix = "sum:"      // Image content digest keys
	cacheDBDir       = "decode_db" // Subdirectory name within the cache dir
)

// cacheEntry is the JSON value stored per key
type cacheEntry struct {
	Payload   string    `json:"payload,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	Succeeded bool      `json:"succeeded"`
	StoredAt  time.Time `json:"storedAt"`
}

// BadgerCache implements DecodeCache using BadgerDB
type BadgerCache struct {
	db  *badger.DB
	ttl time.Duration // 0 keeps entries forever
	log *logrus.Entry
}

// NewBadgerCache opens (or creates) the cache under dir. An empty dir keeps
// the cache in memory for the life of the process.
func NewBadgerCache(dir string, ttl time.Duration, logger *logrus.Entry) (*BadgerCache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
		logger.Info("Initializing in-memory decode cache")
	} else {
		dbPath := filepath.Join(dir, cacheDBDir)
		if err := os.MkdirAll(dbPath, 0755); err != nil {
			return nil, fmt.Errorf("%w: cannot create cache directory %s: %w", utils.ErrDatabase, dbPath, err)
		}
		opts = badger.DefaultOptions(dbPath)
		logger.Infof("Initializing decode cache at: %s", dbPath)
	}
	opts = opts.
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database: %w", utils.ErrDatabase, err)
	}
	return &BadgerCache{db: db, ttl: ttl, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for transaction conflicts
func (c *BadgerCache) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := c.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		c.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Lookup implements DecodeCache
func (c *BadgerCache) Lookup(key string) (models.DecodeResult, bool, error) {
	var entry cacheEntry
	found := false

	err := c.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get([]byte(key))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		return item.Value(func(val []byte) error {
			if errJSON := json.Unmarshal(val, &entry); errJSON != nil {
				c.log.Warnf("Failed to unmarshal cache entry for key '%s': %v. Treating as miss.", key, errJSON)
				return nil
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return models.DecodeResult{}, false, fmt.Errorf("%w: reading cache key '%s': %w", utils.ErrDatabase, key, err)
	}
	if !found {
		return models.DecodeResult{}, false, nil
	}
	return models.DecodeResult{
		Payload:   entry.Payload,
		Strategy:  entry.Strategy,
		Succeeded: entry.Succeeded,
	}, true, nil
}

// Store implements DecodeCache
func (c *BadgerCache) Store(key string, result models.DecodeResult) error {
	val, err := json.Marshal(cacheEntry{
		Payload:   result.Payload,
		Strategy:  result.Strategy,
		Succeeded: result.Succeeded,
		StoredAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: encoding cache entry: %w", utils.ErrDatabase, err)
	}

	err = c.dbUpdate(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), val)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		c.log.WithField("key", key).Errorf("DB Update error in Store: %v", err)
		return fmt.Errorf("%w: writing cache key '%s': %w", utils.ErrDatabase, key, err)
	}
	return nil
}

// Count implements DecodeCache
func (c *BadgerCache) Count() (int, error) {
	count := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// RunGC implements DecodeCache
func (c *BadgerCache) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.log.Debug("Decode cache GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if c.db.IsClosed() {
				return
			}
			var err error
			for {
				// Run GC if log is at least 50% reclaimable space
				if err = c.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
				c.log.Errorf("Decode cache GC error: %v", err)
			}
		case <-ctx.Done():
			c.log.Debugf("Stopping decode cache GC: %v", ctx.Err())
			return
		}
	}
}

// Close implements DecodeCache
func (c *BadgerCache) Close() error {
	if c.db == nil || c.db.IsClosed() {
		return nil
	}
	if err := c.db.Close(); err != nil {
		c.log.Errorf("Error closing decode cache: %v", err)
		return err
	}
	c.log.Debug("Decode cache closed.")
	return nil
}
