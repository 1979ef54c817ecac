/*
Package compactmap implements an open-addressing hash map whose collision
chains are threaded through the slot array itself.

Every slot holds a key, a value and a link. A key's home slot is
hash(key) mod capacity. All keys sharing a home slot form a ring: following
the links from the home slot visits each member once and returns to the
home slot. Overflow members are placed in the next free slot and carry a
redirect flag in their link, so a bucket that later needs that slot as its
own home can move them out of the way.

    Link layout:
    +---------------+------------------------------------+
    | redirect (1b) | next slot in the ring (31b, coded) |
    +---------------+------------------------------------+

The table only grows when it is completely full, by a factor of 1.6.
*/
package compactmap

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
)

const (
	initialCapacity = 2
	growthFactor    = 1.6
)

type slot[K comparable, V any] struct {
	key   K
	value V
	link  uint32
}

type options struct {
	encoding Encoding
}

// Option configures a Map.
type Option func(*options)

// WithEncoding selects the unused-slot encoding. Default: ZeroUnused.
func WithEncoding(e Encoding) Option {
	return func(o *options) { o.encoding = e }
}

// Map is a resizable associative array. It is not safe for concurrent
// use; concurrent readers are fine once no more writes happen.
type Map[K comparable, V any] struct {
	slots    []slot[K, V]
	count    int
	occupied int // every slot below occupied is in use
	hash     HashFunc[K]
	enc      Encoding
}

// New creates a map with the given initial capacity.
func New[K comparable, V any](capacity int, hash HashFunc[K], opts ...Option) (*Map[K, V], error) {
	if capacity < 0 || capacity >= MaxCapacity || hash == nil {
		return nil, ErrInvalidArgument
	}

	var o options
	for _, fn := range opts {
		fn(&o)
	}

	m := &Map[K, V]{hash: hash, enc: o.encoding}
	if capacity > 0 {
		m.slots = m.alloc(capacity)
	}
	return m, nil
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int { return m.count }

// Cap returns the number of slots.
func (m *Map[K, V]) Cap() int { return len(m.slots) }

// Get returns the value stored for key or ErrKeyNotFound.
func (m *Map[K, V]) Get(key K) (V, error) {
	if i := m.find(key); i >= 0 {
		return m.slots[i].value, nil
	}

	var zero V
	return zero, ErrKeyNotFound
}

// TryGet returns the value stored for key and true, if present.
func (m *Map[K, V]) TryGet(key K) (V, bool) {
	if i := m.find(key); i >= 0 {
		return m.slots[i].value, true
	}

	var zero V
	return zero, false
}

// ContainsKey reports whether key is present.
func (m *Map[K, V]) ContainsKey(key K) bool { return m.find(key) >= 0 }

// Add inserts a new entry. It returns ErrDuplicateKey if key already exists.
func (m *Map[K, V]) Add(key K, value V) error {
	if inserted, _ := m.insert(key, value, false); !inserted {
		return ErrDuplicateKey
	}
	return nil
}

// TryAdd inserts a new entry unless key already exists. When it does not
// insert, it returns the value already stored.
func (m *Map[K, V]) TryAdd(key K, value V) (bool, V) {
	inserted, i := m.insert(key, value, false)
	if inserted {
		var zero V
		return true, zero
	}
	return false, m.slots[i].value
}

// Set inserts or overwrites the entry for key.
func (m *Map[K, V]) Set(key K, value V) {
	m.insert(key, value, true)
}

// Remove deletes the entry for key and returns its value.
func (m *Map[K, V]) Remove(key K) (bool, V) {
	var zero V

	d := m.find(key)
	if d < 0 {
		return false, zero
	}

	value := m.slots[d].value
	home := m.bucket(key)
	next := m.enc.decode(m.slots[d].link)

	switch {
	case next == d: // sole member
		m.release(d)
	case d != home:
		m.unlink(d)
	default: // home stays put, pull the next member in
		m.slots[home].key = m.slots[next].key
		m.slots[home].value = m.slots[next].value
		m.unlink(next)
	}

	m.count--
	return true, value
}

// Clear removes all entries and keeps the capacity.
func (m *Map[K, V]) Clear() {
	unused := m.enc.unused()
	for i := range m.slots {
		m.slots[i] = slot[K, V]{link: unused}
	}
	m.count = 0
	m.occupied = 0
}

// TrimExcess shrinks the capacity to the number of entries.
func (m *Map[K, V]) TrimExcess() {
	if m.count != len(m.slots) {
		m.resize(m.count)
	}
}

// Each calls fn for every entry in slot order until fn returns false.
// The map must not be modified during iteration.
func (m *Map[K, V]) Each(fn func(K, V) bool) {
	for i := range m.slots {
		if s := &m.slots[i]; m.enc.used(s.link) {
			if !fn(s.key, s.value) {
				return
			}
		}
	}
}

// --------------------------------------------------------------------

func (m *Map[K, V]) alloc(n int) []slot[K, V] {
	slots := make([]slot[K, V], n)
	if unused := m.enc.unused(); unused != 0 {
		for i := range slots {
			slots[i].link = unused
		}
	}
	return slots
}

func (m *Map[K, V]) bucket(key K) int {
	return int(normalize(m.hash(key)) % uint32(len(m.slots)))
}

// find returns the slot holding key, or -1.
func (m *Map[K, V]) find(key K) int {
	if m.count == 0 {
		return -1
	}

	home := m.bucket(key)
	if link := m.slots[home].link; !m.enc.used(link) || redirected(link) {
		return -1
	}
	return m.scan(home, key)
}

// scan walks the ring starting at home.
func (m *Map[K, V]) scan(home int, key K) int {
	for i, n := home, 0; ; n++ {
		if m.slots[i].key == key {
			return i
		}
		if i = m.enc.decode(m.slots[i].link); i == home {
			return -1
		}
		if n >= len(m.slots) {
			log.Panicf("compactmap: ring at slot %d does not close", home)
		}
	}
}

// referrer returns the slot whose link points at i.
func (m *Map[K, V]) referrer(i int) int {
	for j, n := i, 0; ; n++ {
		next := m.enc.decode(m.slots[j].link)
		if next == i {
			return j
		}
		if n >= len(m.slots) {
			log.Panicf("compactmap: no referrer for slot %d", i)
		}
		j = next
	}
}

// nextFree advances the occupied cursor to the first unused slot.
func (m *Map[K, V]) nextFree() int {
	for m.occupied < len(m.slots) && m.enc.used(m.slots[m.occupied].link) {
		m.occupied++
	}
	if m.occupied == len(m.slots) {
		log.Panicf("compactmap: no free slot, %d of %d used", m.count, len(m.slots))
	}
	return m.occupied
}

// insert places key and reports whether a new entry was created, together
// with the slot now holding key.
func (m *Map[K, V]) insert(key K, value V, overwrite bool) (bool, int) {
	if len(m.slots) == 0 {
		m.resize(initialCapacity)
	}

	for {
		home := m.bucket(key)
		link := m.slots[home].link

		if m.enc.used(link) && redirected(link) {
			if m.count == len(m.slots) {
				m.grow()
				continue
			}
			m.relocate(home)
			link = m.slots[home].link
		}

		if !m.enc.used(link) {
			m.slots[home] = slot[K, V]{key: key, value: value, link: m.enc.encode(home)}
			m.count++
			return true, home
		}

		if i := m.scan(home, key); i >= 0 {
			if overwrite {
				m.slots[i].value = value
			}
			return false, i
		}

		if m.count == len(m.slots) {
			m.grow()
			continue
		}

		f := m.nextFree()
		m.slots[f] = slot[K, V]{key: key, value: value, link: link | redirectFlag}
		m.slots[home].link = m.enc.encode(f)
		m.count++
		return true, f
	}
}

// relocate moves the overflow member at i to a free slot, keeping its ring intact.
func (m *Map[K, V]) relocate(i int) {
	r := m.referrer(i)
	f := m.nextFree()

	m.slots[f] = m.slots[i]
	m.slots[r].link = m.enc.encode(f) | m.slots[r].link&redirectFlag
	m.slots[i] = slot[K, V]{link: m.enc.unused()}
}

// unlink splices i out of its ring and frees it.
func (m *Map[K, V]) unlink(i int) {
	r := m.referrer(i)
	m.slots[r].link = m.slots[i].link&^redirectFlag | m.slots[r].link&redirectFlag
	m.release(i)
}

func (m *Map[K, V]) release(i int) {
	m.slots[i] = slot[K, V]{link: m.enc.unused()}
	if i < m.occupied {
		m.occupied = i
	}
}

func (m *Map[K, V]) grow() {
	n := len(m.slots)
	must.Truef(n < MaxCapacity, "compactmap: capacity exhausted at %d", n)

	next := int(float64(n) * growthFactor)
	if next <= n {
		next = n + 1
	}
	if next > MaxCapacity {
		next = MaxCapacity
	}
	m.resize(next)
}

func (m *Map[K, V]) resize(n int) {
	old, want := m.slots, m.count

	m.slots = m.alloc(n)
	m.count, m.occupied = 0, 0

	for i := range old {
		if s := &old[i]; m.enc.used(s.link) {
			m.insert(s.key, s.value, false)
		}
	}
	must.Truef(m.count == want, "compactmap: resize copied %d of %d entries", m.count, want)
}
