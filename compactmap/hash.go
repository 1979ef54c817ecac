package compactmap

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
)

// HashFunc computes the 32-bit hash code of a key.
type HashFunc[K comparable] func(K) uint32

// Int64Hash hashes the little-endian representation of k.
func Int64Hash(k int64) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(k))
	return murmur3.Sum32(b[:])
}

// StringHash hashes the bytes of s.
func StringHash(s string) uint32 {
	return murmur3.Sum32([]byte(s))
}
