// Package cache implements the mDNS answer cache: a TTL-driven store of
// resource records learned from the network, per RFC 6762 §5 and §10.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/quietwire/mdnsd/internal/message"
	"github.com/quietwire/mdnsd/internal/protocol"
	"github.com/quietwire/mdnsd/internal/records"
)

// Record is a cacheable resource record, decoupled from wire format: no
// RDLENGTH, no raw compression pointers, and CacheFlush/Class kept apart so
// equality comparisons never trip over the cache-flush bit.
type Record struct {
	Name       string
	Type       protocol.RecordType
	Class      protocol.DNSClass
	RDATA      []byte
	Target     string // decoded name for PTR/SRV records, empty otherwise
	CacheFlush bool
}

// FromAnswer converts a parsed message.Answer into a cache Record.
func FromAnswer(a message.Answer) Record {
	return Record{
		Name:       a.NAME,
		Type:       protocol.RecordType(a.TYPE),
		Class:      protocol.DNSClass(a.CLASS &^ 0x8000),
		RDATA:      a.RDATA,
		Target:     a.Target,
		CacheFlush: a.CLASS&0x8000 != 0,
	}
}

func (r Record) equalIgnoringTTL(other Record) bool {
	if !strings.EqualFold(r.Name, other.Name) || r.Type != other.Type || r.Class != other.Class {
		return false
	}
	if r.Target != other.Target {
		return false
	}
	if len(r.RDATA) != len(other.RDATA) {
		return false
	}
	for i := range r.RDATA {
		if r.RDATA[i] != other.RDATA[i] {
			return false
		}
	}
	return true
}

type entry struct {
	record Record
	ttl    *records.RecordTTL
}

func (e *entry) expired() bool {
	return e.ttl.IsExpired()
}

func (e *entry) stale() bool {
	remaining := float64(e.ttl.GetRemainingTTL())
	return remaining < protocol.StaleFraction*float64(e.ttl.TTL)
}

// Cache is a concurrency-safe answer cache keyed by lower-cased record name.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]*entry
}

// New returns an empty answer cache.
func New() *Cache {
	return &Cache{entries: make(map[string][]*entry)}
}

// Add inserts rec with the given TTL. A TTL of 0 is a goodbye record per
// RFC 6762 §10.1 and removes any matching entry instead of adding one. An
// equal existing record (same Name/Type/Class/Target/RDATA, ignoring TTL)
// has its TTL refreshed in place rather than duplicating the entry; Add
// reports whether a genuinely new record was learned, which callers use to
// decide whether to fire an Added/Removed notification.
func (c *Cache) Add(rec Record, ttlSeconds uint32) (isNew bool) {
	key := strings.ToLower(rec.Name)

	c.mu.Lock()
	defer c.mu.Unlock()

	bucket := c.entries[key]

	if ttlSeconds == 0 {
		c.entries[key] = removeMatching(bucket, rec)
		return false
	}

	if rec.CacheFlush {
		bucket = flushStaleSiblings(bucket, rec)
	}

	for _, e := range bucket {
		if e.record.equalIgnoringTTL(rec) {
			e.ttl = records.NewRecordTTL(rec.Type, ttlSeconds)
			e.record = rec
			c.entries[key] = bucket
			return false
		}
	}

	bucket = append(bucket, &entry{record: rec, ttl: records.NewRecordTTL(rec.Type, ttlSeconds)})
	c.entries[key] = bucket
	return true
}

// flushStaleSiblings implements RFC 6762 §10.2: on the first cache-flush
// record of a new set, any previously cached record of the same
// name/type/class that is more than one second old and differs in RDATA is
// no longer part of the current record set and is dropped.
func flushStaleSiblings(bucket []*entry, rec Record) []*entry {
	kept := bucket[:0:0]
	for _, e := range bucket {
		sameSet := strings.EqualFold(e.record.Name, rec.Name) && e.record.Type == rec.Type && e.record.Class == rec.Class
		if sameSet && !e.record.equalIgnoringTTL(rec) && time.Since(e.ttl.CreatedAt) > time.Second {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func removeMatching(bucket []*entry, rec Record) []*entry {
	kept := bucket[:0:0]
	for _, e := range bucket {
		if e.record.equalIgnoringTTL(rec) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// Remove deletes any entry matching rec regardless of TTL.
func (c *Cache) Remove(rec Record) {
	key := strings.ToLower(rec.Name)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = removeMatching(c.entries[key], rec)
}

// Get returns the unexpired cached records for name of the given type.
// RecordTypeANY returns every unexpired record regardless of type.
func (c *Cache) Get(name string, rt protocol.RecordType) []Record {
	key := strings.ToLower(name)
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Record
	for _, e := range c.entries[key] {
		if e.expired() {
			continue
		}
		if rt != protocol.RecordTypeANY && e.record.Type != rt {
			continue
		}
		out = append(out, e.record)
	}
	return out
}

// EntriesWithName returns every unexpired record cached under name,
// regardless of type — used to answer ANY queries and to diff a browser's
// known set against the cache.
func (c *Cache) EntriesWithName(name string) []Record {
	return c.Get(name, protocol.RecordTypeANY)
}

// IsStale reports whether the cached record matching rec has crossed
// protocol.StaleFraction of its original TTL and is worth refreshing, per
// spec.md §4.C. Returns false if no matching entry is cached.
func (c *Cache) IsStale(rec Record) bool {
	key := strings.ToLower(rec.Name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries[key] {
		if e.record.equalIgnoringTTL(rec) {
			return e.stale()
		}
	}
	return false
}

// Expire removes every expired entry and returns the records that were
// dropped, so callers (e.g. a ServiceBrowser) can fire Removed events.
func (c *Cache) Expire() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []Record
	for key, bucket := range c.entries {
		kept := bucket[:0:0]
		for _, e := range bucket {
			if e.expired() {
				removed = append(removed, e.record)
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(c.entries, key)
		} else {
			c.entries[key] = kept
		}
	}
	return removed
}
