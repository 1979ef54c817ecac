package roadsnap

import "errors"

// ErrNotFound is returned when a key is present in none of the shards.
var ErrNotFound = errors.New("roadsnap: not found")

// ErrUnsupported is returned when enumerating a paged cache.
var ErrUnsupported = errors.New("roadsnap: unsupported operation")

// ErrConflict is returned by the default loaders when two shards hold
// irreconcilable records for the same key.
var ErrConflict = errors.New("roadsnap: conflicting shard records")

var (
	errClosed         = errors.New("roadsnap: is closed")
	errBadHeader      = errors.New("roadsnap: bad shard header")
	errBadVersion     = errors.New("roadsnap: unsupported format version")
	errBadCompression = errors.New("roadsnap: bad compression codec")
	errBadRecord      = errors.New("roadsnap: bad record")
)

// --------------------------------------------------------------------

// Compression is the compression codec
type Compression byte

func (c Compression) isValid() bool {
	return c >= SnappyCompression && c < unknownCompression
}

// Supported compression codecs
const (
	SnappyCompression Compression = iota
	NoCompression
	unknownCompression
)

const (
	recordNoCompression     = 0
	recordSnappyCompression = 1
)
