package storage

import (
	"context"
	"time"

	"qr-spider/pkg/models"
)

// DecodeCache remembers decode outcomes so repeated crawls of the same site
// skip images that were already examined. Negative outcomes are cached too.
type DecodeCache interface {
	// Lookup returns the cached result for key. found is false on a miss or
	// an expired entry.
	Lookup(key string) (result models.DecodeResult, found bool, err error)

	// Store records the result for key, replacing any previous entry
	Store(key string, result models.DecodeResult) error

	// Count returns the number of live entries
	Count() (int, error)

	// RunGC runs periodic value log garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the underlying database
	Close() error
}

// URLKey is the cache key for an image addressed by normalized URL
func URLKey(normalizedImageURL string) string {
	return urlKeyPrefix + normalizedImageURL
}

// ContentKey is the cache key for an image addressed by content digest
func ContentKey(sha256Hex string) string {
	return contentKeyPrefix + sha256Hex
}
