package dedup

import (
	"bidwatch/internal/components/assert"
	"bidwatch/internal/components/telemetry"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

const (
	report_cache_insert = "cache.insert"
	report_cache_prune  = "cache.prune"
)

// Store is a durable set of keys.
type Store interface {
	HasKey(ctx context.Context, key string) (bool, error)
	// PutKey must be durable once it returns and must accept existing keys.
	PutKey(ctx context.Context, key string) error
	DeleteKeys(ctx context.Context, keys ...string) error
	Keys(ctx context.Context) ([]string, error)
}

// Cache remembers which records have already been published. Every operation
// goes through one mutex so a check followed by an insert never interleaves
// with a prune.
type Cache struct {
	store Store
	tel   telemetry.API

	mu sync.Mutex
}

func NewCache(store Store, tel telemetry.API) *Cache {
	assert.NotNil(store)
	assert.NotNil(tel)
	return &Cache{store: store, tel: tel}
}

// Exists reports whether key was inserted, absence is not an error.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	found, err := c.store.HasKey(ctx, key)
	if err != nil {
		return false, fmt.Errorf("dedup: lookup %s: %w", key, err)
	}
	return found, nil
}

// Insert adds key, inserting it twice is a no-op.
func (c *Cache) Insert(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.PutKey(ctx, key); err != nil {
		c.tel.ReportBroken(report_cache_insert, err, key)
		return fmt.Errorf("dedup: insert %s: %w", key, err)
	}
	c.tel.ReportDebug("cache insert", key)
	return nil
}

// Prune removes every key that does not embed the calendar day of reference,
// keys without a readable date included. It returns how many keys were removed.
func (c *Cache) Prune(ctx context.Context, reference time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := reference.Format(KeyDateLayout)

	keys, err := c.store.Keys(ctx)
	if err != nil {
		c.tel.ReportBroken(report_cache_prune, err)
		return 0, fmt.Errorf("dedup: list keys: %w", err)
	}

	var stale []string
	for _, key := range keys {
		day, ok := DateOf(key)
		if !ok || day != today {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := c.store.DeleteKeys(ctx, stale...); err != nil {
		c.tel.ReportBroken(report_cache_prune, err)
		return 0, fmt.Errorf("dedup: delete keys: %w", err)
	}
	c.tel.ReportCount(report_cache_prune, int64(len(stale)))
	return len(stale), nil
}

// List returns every key in lexical order, which is also chronological.
func (c *Cache) List(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("dedup: list keys: %w", err)
	}
	slices.Sort(keys)
	return keys, nil
}
