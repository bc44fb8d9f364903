package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tile-protocol/tile-go/pkg/gatt"
	"github.com/tile-protocol/tile-go/pkg/tileerr"
)

// TTL policy. Physical addresses change rarely (hardware-level);
// discoverability changes often (environment-level). One TTL for both
// would either waste scans or serve stale addresses.
const (
	// AddressTTL is how long a resolved physical address stays valid.
	AddressTTL = 1 * time.Hour

	// ScanTTL is how long cached scan results stay valid.
	ScanTTL = 60 * time.Second
)

// numShards spreads entries so different tiles never contend on one lock.
const numShards = 16

type addressEntry struct {
	address    string
	resolvedAt time.Time
}

type scanEntry struct {
	results    []gatt.Advertisement
	capturedAt time.Time
}

type shard struct {
	mu    sync.RWMutex
	addrs map[uuid.UUID]addressEntry
	scans map[string]scanEntry
}

// Cache maps tile identifiers to physical addresses and caches recent scan
// results, each with its own TTL. It is the only state shared across
// concurrent logical operations; entries for different tiles live on
// independent shards and may be updated concurrently.
type Cache struct {
	shards [numShards]*shard

	// now is replaceable for TTL tests.
	now func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	c := &Cache{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{
			addrs: make(map[uuid.UUID]addressEntry),
			scans: make(map[string]scanEntry),
		}
	}
	return c
}

func (c *Cache) addrShard(id uuid.UUID) *shard {
	return c.shards[id[0]%numShards]
}

func (c *Cache) scanShard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Resolve returns the cached physical address for a tile. Entries older
// than AddressTTL are never served, even if the BLE stack would still
// report the same address; staleness is decided by timestamp alone.
func (c *Cache) Resolve(tileUUID uuid.UUID) (string, error) {
	s := c.addrShard(tileUUID)
	s.mu.RLock()
	entry, ok := s.addrs[tileUUID]
	s.mu.RUnlock()

	if !ok {
		return "", tileerr.New(tileerr.KindCacheMiss, "no address for %s", tileUUID)
	}
	if c.now().After(entry.resolvedAt.Add(AddressTTL)) {
		return "", tileerr.New(tileerr.KindCacheMiss, "address for %s expired", tileUUID)
	}
	return entry.address, nil
}

// Store upserts the physical address for a tile, resetting its timestamp.
func (c *Cache) Store(tileUUID uuid.UUID, address string) {
	s := c.addrShard(tileUUID)
	s.mu.Lock()
	s.addrs[tileUUID] = addressEntry{address: address, resolvedAt: c.now()}
	s.mu.Unlock()
}

// Scan returns cached scan results for a scan key if younger than ScanTTL.
func (c *Cache) Scan(scanKey string) ([]gatt.Advertisement, error) {
	s := c.scanShard(scanKey)
	s.mu.RLock()
	entry, ok := s.scans[scanKey]
	s.mu.RUnlock()

	if !ok {
		return nil, tileerr.New(tileerr.KindCacheMiss, "no scan for key %s", scanKey)
	}
	if c.now().After(entry.capturedAt.Add(ScanTTL)) {
		return nil, tileerr.New(tileerr.KindCacheMiss, "scan for key %s expired", scanKey)
	}

	results := make([]gatt.Advertisement, len(entry.results))
	copy(results, entry.results)
	return results, nil
}

// StoreScan upserts scan results for a scan key, superseding any previous
// scan with the same key.
func (c *Cache) StoreScan(scanKey string, results []gatt.Advertisement) {
	stored := make([]gatt.Advertisement, len(results))
	copy(stored, results)

	s := c.scanShard(scanKey)
	s.mu.Lock()
	s.scans[scanKey] = scanEntry{results: stored, capturedAt: c.now()}
	s.mu.Unlock()
}

// Clear drops all address and scan entries. Used for operator-triggered
// resets when a tile has physically moved or stale data causes connection
// failures.
func (c *Cache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.addrs = make(map[uuid.UUID]addressEntry)
		s.scans = make(map[string]scanEntry)
		s.mu.Unlock()
	}
}

// ScanKey fingerprints a scan request (timeout plus filters) so repeated
// scans with the same shape share one cache entry. Filter order does not
// matter.
func ScanKey(timeout time.Duration, filters ...string) string {
	sorted := make([]string, len(filters))
	copy(sorted, filters)
	sort.Strings(sorted)

	h := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", timeout, strings.Join(sorted, ","))))
	return hex.EncodeToString(h[:8])
}
