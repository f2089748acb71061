package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/banledger/internal/ban"
)

// allJails is the cache key used for merges spanning every jail.
const allJails = ""

// CacheStats reports merge cache activity.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// mergeCache memoizes merged tickets per (address, jail). Entries are
// grouped by address so a new ban drops exactly that address's entries.
//
// Invalidation happens under the store write lock; lookups and inserts
// happen under the read lock, so the inner mutex only orders concurrent
// readers.
type mergeCache struct {
	mu      sync.Mutex
	entries map[string]map[string]*ban.Ticket
	hits    int64
	misses  int64
}

func newMergeCache() *mergeCache {
	return &mergeCache{entries: make(map[string]map[string]*ban.Ticket)}
}

func (c *mergeCache) get(address, jail string) (*ban.Ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.entries[address][jail]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return t, ok
}

// put stores t unless a concurrent reader got there first, and returns the
// ticket that is now cached.
func (c *mergeCache) put(address, jail string, t *ban.Ticket) *ban.Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	byJail, ok := c.entries[address]
	if !ok {
		byJail = make(map[string]*ban.Ticket)
		c.entries[address] = byJail
	}
	if existing, ok := byJail[jail]; ok {
		return existing
	}
	byJail[jail] = t
	return t
}

func (c *mergeCache) invalidate(addresses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range addresses {
		delete(c.entries, a)
	}
}

func (c *mergeCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]map[string]*ban.Ticket)
}

func (c *mergeCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, byJail := range c.entries {
		n += len(byJail)
	}
	return CacheStats{Hits: c.hits, Misses: c.misses, Entries: n}
}

// MergedHistory merges every ban event of address into one ticket, scoped to
// jail or to all jails when jail is empty. A positive sinceAge keeps events
// with time_of_ban >= now - sinceAge.
//
// Results without a time window are cached until a ban for address is
// added; a cache hit returns the same *ban.Ticket as the previous call, so
// pointer equality means nothing changed. The returned ticket is shared and
// must not be modified. Returns nil when there are no events or address is
// empty; use MergedHistories to merge every address.
func (s *Store) MergedHistory(ctx context.Context, address, jail string, sinceAge int64) (*ban.Ticket, error) {
	if address == "" {
		return nil, nil
	}
	jail = ban.NormalizeJail(jail)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	cacheable := sinceAge <= 0
	if cacheable {
		if t, ok := s.cache.get(address, jail); ok {
			return t, nil
		}
	}

	f := eventFilter{address: address, jail: jail}
	if sinceAge > 0 {
		f.hasMinTime = true
		f.minTime = s.nowUnix() - sinceAge
	}
	events, err := s.queryEvents(ctx, f, orderChronological)
	if err != nil {
		return nil, fmt.Errorf("merged history: %w", err)
	}

	merged := ban.Merge(events)
	if merged == nil {
		return nil, nil
	}
	if cacheable {
		merged = s.cache.put(address, jail, merged)
	}
	return merged, nil
}

// MergedHistories returns one merged ticket per distinct address, ordered by
// address, over the events of jail (all jails when empty) within sinceAge.
// Returns empty slice (not nil) if no events match.
func (s *Store) MergedHistories(ctx context.Context, jail string, sinceAge int64) ([]*ban.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	f := eventFilter{jail: jail}
	if sinceAge > 0 {
		f.hasMinTime = true
		f.minTime = s.nowUnix() - sinceAge
	}
	events, err := s.queryEvents(ctx, f, orderByAddress)
	if err != nil {
		return nil, fmt.Errorf("merged histories: %w", err)
	}

	return ban.MergeByAddress(events), nil
}

// MergeCacheStats returns hit/miss counters and the number of cached merges.
func (s *Store) MergeCacheStats() CacheStats {
	return s.cache.stats()
}
