package roadsnap

import (
	"fmt"
	"io"

	"github.com/bsm/roadsnap/compactmap"
	"github.com/grailbio/base/must"
)

// Loader decodes the value of key from one or more shard records. Each
// reader is positioned at the record of one shard holding the key. When
// more than one record is passed, the loader must reconcile them into a
// single value or fail. Readers must not be retained.
type Loader[K comparable, V any] func(key K, records []io.Reader) (V, error)

// CacheOptions define paged cache specific options.
type CacheOptions struct {
	// MemoryLimit is the maximum number of resident values.
	// Default: 4096.
	MemoryLimit int

	// ExtraOffset is added to every indexed offset before records are
	// passed to the loader.
	// Default: 0.
	ExtraOffset int64
}

func (o *CacheOptions) norm() *CacheOptions {
	var oo CacheOptions
	if o != nil {
		oo = *o
	}

	if oo.MemoryLimit < 1 {
		oo.MemoryLimit = 4096
	}
	if oo.ExtraOffset < 0 {
		oo.ExtraOffset = 0
	}

	return &oo
}

// Stats are diagnostic counters of a paged cache.
type Stats struct {
	Shards      int
	Resident    int
	MemoryLimit int

	Hits      uint64
	Misses    uint64
	Loads     uint64
	Evictions uint64
}

func (s Stats) String() string {
	return fmt.Sprintf("shards=%d resident=%d/%d hits=%d misses=%d loads=%d evictions=%d",
		s.Shards, s.Resident, s.MemoryLimit, s.Hits, s.Misses, s.Loads, s.Evictions)
}

// PagedCache is a bounded read-through cache over one offset index per
// shard. Values are decoded on first access and kept until evicted in
// insertion order (FIFO): once MemoryLimit values are resident, loading a
// new one drops the oldest load, regardless of how often it was accessed.
//
// PagedCache is not safe for concurrent use. Use Fork to create one cache
// per goroutine; forks share the immutable offset indexes.
type PagedCache[K comparable, V any] struct {
	shards []*OffsetIndex[K]
	hash   compactmap.HashFunc[K]
	load   Loader[K, V]
	o      *CacheOptions

	resident *compactmap.Map[K, V]
	order    []K    // resident keys by insertion tag modulo MemoryLimit
	counter  uint64 // next insertion tag

	records []io.Reader
	stats   Stats
}

// NewPagedCache creates a cache over the offset indexes of all shards, in
// lookup order.
func NewPagedCache[K comparable, V any](shards []*OffsetIndex[K], hash compactmap.HashFunc[K], load Loader[K, V], o *CacheOptions) (*PagedCache[K, V], error) {
	if hash == nil || load == nil {
		return nil, compactmap.ErrInvalidArgument
	}

	o = o.norm()
	resident, err := compactmap.New[K, V](o.MemoryLimit, hash)
	if err != nil {
		return nil, err
	}

	return &PagedCache[K, V]{
		shards:   shards,
		hash:     hash,
		load:     load,
		o:        o,
		resident: resident,
		order:    make([]K, o.MemoryLimit),
	}, nil
}

// Fork returns an empty cache with the same shards, loader and options.
func (c *PagedCache[K, V]) Fork() *PagedCache[K, V] {
	resident, err := compactmap.New[K, V](c.o.MemoryLimit, c.hash)
	must.Nil(err)

	return &PagedCache[K, V]{
		shards:   c.shards,
		hash:     c.hash,
		load:     c.load,
		o:        c.o,
		resident: resident,
		order:    make([]K, c.o.MemoryLimit),
	}
}

// Get returns the value for key, loading it from the shards on a miss.
// It returns ErrNotFound if no shard indexes the key. Loader errors are
// returned as-is.
func (c *PagedCache[K, V]) Get(key K) (V, error) {
	if v, ok := c.resident.TryGet(key); ok {
		c.stats.Hits++
		return v, nil
	}
	c.stats.Misses++

	records := c.records[:0]
	for _, s := range c.shards {
		if off, ok := s.TryGet(key); ok {
			records = append(records, s.Section(off+c.o.ExtraOffset))
		}
	}
	c.records = records

	var zero V
	if len(records) == 0 {
		return zero, ErrNotFound
	}

	v, err := c.load(key, records)
	for i := range records {
		records[i] = nil
	}
	if err != nil {
		return zero, err
	}

	c.stats.Loads++
	c.store(key, v)
	return v, nil
}

// ContainsKey reports whether key is resident or indexed by any shard. It
// never decodes a value.
func (c *PagedCache[K, V]) ContainsKey(key K) bool {
	if c.resident.ContainsKey(key) {
		return true
	}
	for _, s := range c.shards {
		if _, ok := s.TryGet(key); ok {
			return true
		}
	}
	return false
}

// Each always returns ErrUnsupported: materialising every value would
// defeat the purpose of the cache.
func (c *PagedCache[K, V]) Each(fn func(K, V) bool) error {
	return ErrUnsupported
}

// Len returns the number of resident values.
func (c *PagedCache[K, V]) Len() int { return c.resident.Len() }

// Clear drops all resident values.
func (c *PagedCache[K, V]) Clear() {
	var zero K
	c.resident.Clear()
	for i := range c.order {
		c.order[i] = zero
	}
	c.counter = 0
}

// Stats returns a snapshot of the cache counters.
func (c *PagedCache[K, V]) Stats() Stats {
	s := c.stats
	s.Shards = len(c.shards)
	s.Resident = c.resident.Len()
	s.MemoryLimit = c.o.MemoryLimit
	return s
}

// store makes v resident under the next insertion tag. When the cache is
// full, the entry tagged counter-MemoryLimit is evicted first.
func (c *PagedCache[K, V]) store(key K, v V) {
	pos := int(c.counter % uint64(c.o.MemoryLimit))
	if c.resident.Len() >= c.o.MemoryLimit {
		c.resident.Remove(c.order[pos])
		c.stats.Evictions++
	}

	c.order[pos] = key
	c.resident.Set(key, v)
	c.counter++
}
