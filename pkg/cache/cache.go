// Package cache implements the Replay Cache: three independently keyed
// tables (first-auth, second-auth, prepared-statement history) that let a
// renewed backend connection replay a client's original authentication and
// PREPARE traffic.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hohice/mysql-replay-module/pkg/host"
)

// MaxPreparedStatements caps how many PREPARE packets PushPrepared keeps
// per session.
const MaxPreparedStatements = 256

// FrameEntry is one cached packet: enough of the original IP/TCP headers to
// recompute a spliced sequence number, plus its payload and bookkeeping
// timestamps.
type FrameEntry struct {
	IP         host.IPHeader
	TCP        host.TCPHeader
	Payload    []byte
	CreatedAt  time.Time
	AccessedAt time.Time
}

func (f FrameEntry) clone() FrameEntry {
	out := f
	out.Payload = append([]byte(nil), f.Payload...)
	return out
}

// PSEntry is one cached PREPARE packet inside a session's PS history, keyed
// by the TCP sequence number it was captured at.
type PSEntry struct {
	Key   uint32
	Frame FrameEntry
}

// PSList is a session's ordered prepared-statement history. Packets is kept
// in strictly ascending Key order; TotalPayloadBytes is the running sum of
// every Frame.Payload length, used directly by the splicer's sequence
// arithmetic.
type PSList struct {
	TotalPayloadBytes uint32
	Packets           []PSEntry
}

func (l PSList) clone() PSList {
	out := PSList{TotalPayloadBytes: l.TotalPayloadBytes}
	out.Packets = make([]PSEntry, len(l.Packets))
	for i, p := range l.Packets {
		out.Packets[i] = PSEntry{Key: p.Key, Frame: p.Frame.clone()}
	}
	return out
}

// ErrTooManyPreparedStatements is returned by PushPrepared once a session's
// PS history has reached the cache's per-session limit (MaxPreparedStatements
// unless lowered by SetPreparedLimit).
var ErrTooManyPreparedStatements = fmt.Errorf("cache: prepared-statement history is at its per-session limit")

// Cache holds the three replay tables for every session key the host has
// introduced this module to.
type Cache struct {
	mu sync.Mutex

	firstAuth  map[host.Key]*FrameEntry
	secondAuth map[host.Key]*FrameEntry
	prepared   map[host.Key]*PSList

	firstAuthPool  *Pool
	secondAuthPool *Pool
	psPool         *Pool

	preparedLimit int
}

// New builds an empty Cache. capacity bounds each table's pool; a
// non-positive capacity leaves the corresponding table unbounded.
func New(capacity int) *Cache {
	return &Cache{
		firstAuth:      make(map[host.Key]*FrameEntry),
		secondAuth:     make(map[host.Key]*FrameEntry),
		prepared:       make(map[host.Key]*PSList),
		firstAuthPool:  NewPool("first_auth", capacity),
		secondAuthPool: NewPool("second_auth", capacity),
		psPool:         NewPool("prepared_stmt", capacity),
		preparedLimit:  MaxPreparedStatements,
	}
}

// SetPreparedLimit lowers the per-session prepared-statement cap below
// MaxPreparedStatements; a non-positive or over-limit n keeps the default.
func (c *Cache) SetPreparedLimit(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 && n <= MaxPreparedStatements {
		c.preparedLimit = n
	}
}

// CacheFirstAuth stores (or replaces) the first-auth frame for key.
func (c *Cache) CacheFirstAuth(key host.Key, entry FrameEntry, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.CreatedAt, entry.AccessedAt = now, now
	if _, exists := c.firstAuth[key]; !exists {
		if err := c.firstAuthPool.Acquire(); err != nil {
			return err
		}
	}
	e := entry.clone()
	c.firstAuth[key] = &e
	return nil
}

// CacheSecondAuth stores (or replaces) the second-auth frame for key. A
// second-auth entry without a corresponding first-auth entry violates the
// replay invariant the splicer depends on.
func (c *Cache) CacheSecondAuth(key host.Key, entry FrameEntry, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.firstAuth[key]; !ok {
		return fmt.Errorf("cache: second-auth for key %d with no first-auth cached", key)
	}

	entry.CreatedAt, entry.AccessedAt = now, now
	if _, exists := c.secondAuth[key]; !exists {
		if err := c.secondAuthPool.Acquire(); err != nil {
			return err
		}
	}
	e := entry.clone()
	c.secondAuth[key] = &e
	return nil
}

// GetFirstAuth returns key's cached first-auth frame, if any.
func (c *Cache) GetFirstAuth(key host.Key) (FrameEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.firstAuth[key]
	if !ok {
		return FrameEntry{}, false
	}
	return e.clone(), true
}

// GetSecondAuth returns key's cached second-auth frame, if any.
func (c *Cache) GetSecondAuth(key host.Key) (FrameEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.secondAuth[key]
	if !ok {
		return FrameEntry{}, false
	}
	return e.clone(), true
}

// GetPrepared returns key's prepared-statement history, if any.
func (c *Cache) GetPrepared(key host.Key) (PSList, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.prepared[key]
	if !ok {
		return PSList{}, false
	}
	return l.clone(), true
}

// PushPrepared appends a PREPARE packet to key's PS history, keyed by the
// TCP sequence number it arrived at. Entries must be pushed in ascending
// seq order, matching capture order; the history is capped at
// MaxPreparedStatements.
func (c *Cache) PushPrepared(key host.Key, seq uint32, entry FrameEntry, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.CreatedAt, entry.AccessedAt = now, now
	list, exists := c.prepared[key]
	if !exists {
		if err := c.psPool.Acquire(); err != nil {
			return err
		}
		list = &PSList{}
		c.prepared[key] = list
	}
	if len(list.Packets) >= c.preparedLimit {
		return ErrTooManyPreparedStatements
	}

	list.Packets = append(list.Packets, PSEntry{Key: seq, Frame: entry.clone()})
	list.TotalPayloadBytes += uint32(len(entry.Payload))
	return nil
}

// Evict drops every table's entry for key, releasing their pool slots.
func (c *Cache) Evict(key host.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
}

func (c *Cache) evictLocked(key host.Key) {
	if _, ok := c.firstAuth[key]; ok {
		delete(c.firstAuth, key)
		c.firstAuthPool.Release()
	}
	if _, ok := c.secondAuth[key]; ok {
		delete(c.secondAuth, key)
		c.secondAuthPool.Release()
	}
	if _, ok := c.prepared[key]; ok {
		delete(c.prepared, key)
		c.psPool.Release()
	}
}

// Refresh deep-copies key's entries in place so no cached payload aliases
// capture-side memory the host may reuse. The copies take no pool slot, so
// Refresh has no failure path: every existing entry is replaced by its copy
// and no entry is dropped.
func (c *Cache) Refresh(key host.Key, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.firstAuth[key]; ok {
		cloned := e.clone()
		cloned.AccessedAt = now
		c.firstAuth[key] = &cloned
	}
	if e, ok := c.secondAuth[key]; ok {
		cloned := e.clone()
		cloned.AccessedAt = now
		c.secondAuth[key] = &cloned
	}
	if l, ok := c.prepared[key]; ok {
		cloned := l.clone()
		c.prepared[key] = &cloned
	}
}

// Sweep evicts every key whose first-auth entry was last accessed before
// threshold (with that key's second-auth and PS entries), plus every key
// that has second-auth or PS entries but no first-auth entry, whatever
// their age. It returns the evicted keys.
func (c *Cache) Sweep(threshold time.Time) []host.Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	stale := make(map[host.Key]bool)
	for k, e := range c.firstAuth {
		if e.AccessedAt.Before(threshold) {
			stale[k] = true
		}
	}
	for k := range c.secondAuth {
		if _, ok := c.firstAuth[k]; !ok {
			stale[k] = true
		}
	}
	for k := range c.prepared {
		if _, ok := c.firstAuth[k]; !ok {
			stale[k] = true
		}
	}

	var evicted []host.Key
	for k := range stale {
		c.evictLocked(k)
		evicted = append(evicted, k)
	}
	return evicted
}
