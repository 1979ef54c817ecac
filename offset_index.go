package roadsnap

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/bsm/roadsnap/compactmap"
)

// KeyFormat describes how keys are stored in an offset table.
type KeyFormat[K comparable] struct {
	Size   int                    // encoded key size in bytes
	Decode func([]byte) K         // decodes Size bytes
	Hash   compactmap.HashFunc[K] // hashes decoded keys
}

// Int64Keys is the key format of shard offset tables.
var Int64Keys = KeyFormat[int64]{
	Size:   8,
	Decode: func(p []byte) int64 { return int64(binary.LittleEndian.Uint64(p)) },
	Hash:   compactmap.Int64Hash,
}

// KeyOffset is an entry of an offset index.
type KeyOffset[K comparable] struct {
	Key    K
	Offset int64
}

// OffsetIndex maps keys to record offsets within a single shard. It is
// immutable once built and safe for concurrent use.
type OffsetIndex[K comparable] struct {
	r    io.ReaderAt
	size int64
	m    *compactmap.Map[K, int64]
}

// NewOffsetIndex wraps a shard reader of the given size and a key to offset map.
func NewOffsetIndex[K comparable](r io.ReaderAt, size int64, m *compactmap.Map[K, int64]) *OffsetIndex[K] {
	return &OffsetIndex[K]{r: r, size: size, m: m}
}

// ReadOffsetIndex reads count (key, offset) pairs starting at pos. Each
// offset is an 8-byte integer following its key.
func ReadOffsetIndex[K comparable](r io.ReaderAt, size, pos int64, count int, kf KeyFormat[K]) (*OffsetIndex[K], error) {
	entrySize := kf.Size + 8
	if count < 0 || pos < 0 || pos+int64(count)*int64(entrySize) > size {
		return nil, fmt.Errorf("%w: offset table at %d exceeds shard", errBadHeader, pos)
	}

	m, err := compactmap.New[K, int64](count, kf.Hash)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(io.NewSectionReader(r, pos, int64(count)*int64(entrySize)))
	tmp := make([]byte, entrySize)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(br, tmp); err != nil {
			return nil, noEOF(err)
		}

		key := kf.Decode(tmp[:kf.Size])
		off := int64(binary.LittleEndian.Uint64(tmp[kf.Size:]))
		if off < 0 || off >= size {
			return nil, fmt.Errorf("%w: offset %d out of range", errBadHeader, off)
		}
		if err := m.Add(key, off); err != nil {
			return nil, fmt.Errorf("roadsnap: offset table at %d, key %v: %w", pos, key, err)
		}
	}

	return NewOffsetIndex(r, size, m), nil
}

// Len returns the number of indexed keys.
func (x *OffsetIndex[K]) Len() int { return x.m.Len() }

// Get returns the offset of key or ErrNotFound.
func (x *OffsetIndex[K]) Get(key K) (int64, error) {
	if off, ok := x.m.TryGet(key); ok {
		return off, nil
	}
	return 0, ErrNotFound
}

// TryGet returns the offset of key and true, if indexed.
func (x *OffsetIndex[K]) TryGet(key K) (int64, bool) {
	return x.m.TryGet(key)
}

// Each calls fn for every indexed key until fn returns false.
func (x *OffsetIndex[K]) Each(fn func(K, int64) bool) {
	x.m.Each(fn)
}

// SortedOffsets returns all entries in ascending offset order, so that
// records can be read sequentially.
func (x *OffsetIndex[K]) SortedOffsets() []KeyOffset[K] {
	entries := make([]KeyOffset[K], 0, x.m.Len())
	x.m.Each(func(k K, off int64) bool {
		entries = append(entries, KeyOffset[K]{Key: k, Offset: off})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })
	return entries
}

// Section returns an independent reader positioned at off.
func (x *OffsetIndex[K]) Section(off int64) *io.SectionReader {
	return io.NewSectionReader(x.r, off, x.size-off)
}
