package roadsnap

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/golang/snappy"
)

const (
	formatVersion = 1

	headerSize       = 60
	tableEntrySize   = 16
	recordKeySize    = 8
	recordHeaderSize = recordKeySize + 5

	maxRecordSize = 1 << 26
	maxCellLevel  = 30 // deepest S2 level
)

// Header holds the fixed shard header.
type Header struct {
	Version   int32
	Timestamp time.Time
	CellLevel int32

	North, East, South, West float32

	NumNodes, NumRoads, NumCells int32

	RoadTableOffset int64
	CellTableOffset int64
}

// Bounds returns the bounding box of all nodes in the shard.
func (h *Header) Bounds() s2.Rect {
	if h.NumNodes == 0 {
		return s2.EmptyRect()
	}

	lo := s2.LatLngFromDegrees(float64(h.South), float64(h.West))
	hi := s2.LatLngFromDegrees(float64(h.North), float64(h.East))
	return s2.Rect{
		Lat: r1.Interval{Lo: lo.Lat.Radians(), Hi: hi.Lat.Radians()},
		Lng: s1.IntervalFromEndpoints(lo.Lng.Radians(), hi.Lng.Radians()),
	}
}

// CellID returns the grid cell containing ll.
func (h *Header) CellID(ll s2.LatLng) s2.CellID {
	return cellID(ll, int(h.CellLevel))
}

func cellID(ll s2.LatLng, level int) s2.CellID {
	return s2.CellIDFromLatLng(ll).Parent(level)
}

func (h *Header) setBounds(r s2.Rect) {
	if r.IsEmpty() {
		return
	}
	h.North = float32(r.Hi().Lat.Degrees())
	h.East = float32(r.Hi().Lng.Degrees())
	h.South = float32(r.Lo().Lat.Degrees())
	h.West = float32(r.Lo().Lng.Degrees())
}

func (h *Header) encode(buf []byte) []byte {
	buf = buf[:headerSize]
	binary.LittleEndian.PutUint32(buf[0:], uint32(h.Version))
	binary.LittleEndian.PutUint64(buf[4:], uint64(h.Timestamp.Unix()))
	binary.LittleEndian.PutUint32(buf[12:], uint32(h.CellLevel))
	binary.LittleEndian.PutUint32(buf[16:], math.Float32bits(h.North))
	binary.LittleEndian.PutUint32(buf[20:], math.Float32bits(h.East))
	binary.LittleEndian.PutUint32(buf[24:], math.Float32bits(h.South))
	binary.LittleEndian.PutUint32(buf[28:], math.Float32bits(h.West))
	binary.LittleEndian.PutUint32(buf[32:], uint32(h.NumNodes))
	binary.LittleEndian.PutUint32(buf[36:], uint32(h.NumRoads))
	binary.LittleEndian.PutUint32(buf[40:], uint32(h.NumCells))
	binary.LittleEndian.PutUint64(buf[44:], uint64(h.RoadTableOffset))
	binary.LittleEndian.PutUint64(buf[52:], uint64(h.CellTableOffset))
	return buf
}

// decodeHeader parses and validates a header of a shard with the given size.
func decodeHeader(buf []byte, size int64) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, errBadHeader
	}

	h := Header{
		Version:         int32(binary.LittleEndian.Uint32(buf[0:])),
		Timestamp:       time.Unix(int64(binary.LittleEndian.Uint64(buf[4:])), 0).UTC(),
		CellLevel:       int32(binary.LittleEndian.Uint32(buf[12:])),
		North:           math.Float32frombits(binary.LittleEndian.Uint32(buf[16:])),
		East:            math.Float32frombits(binary.LittleEndian.Uint32(buf[20:])),
		South:           math.Float32frombits(binary.LittleEndian.Uint32(buf[24:])),
		West:            math.Float32frombits(binary.LittleEndian.Uint32(buf[28:])),
		NumNodes:        int32(binary.LittleEndian.Uint32(buf[32:])),
		NumRoads:        int32(binary.LittleEndian.Uint32(buf[36:])),
		NumCells:        int32(binary.LittleEndian.Uint32(buf[40:])),
		RoadTableOffset: int64(binary.LittleEndian.Uint64(buf[44:])),
		CellTableOffset: int64(binary.LittleEndian.Uint64(buf[52:])),
	}

	if h.Version != formatVersion {
		return Header{}, fmt.Errorf("%w: %d", errBadVersion, h.Version)
	}
	if h.CellLevel < 0 || h.CellLevel > maxCellLevel {
		return Header{}, fmt.Errorf("%w: cell level %d", errBadHeader, h.CellLevel)
	}
	if h.NumNodes < 0 || h.NumRoads < 0 || h.NumCells < 0 {
		return Header{}, fmt.Errorf("%w: negative entity count", errBadHeader)
	}
	if h.RoadTableOffset < headerSize+int64(h.NumNodes)*tableEntrySize ||
		h.CellTableOffset < h.RoadTableOffset+int64(h.NumRoads)*tableEntrySize ||
		h.CellTableOffset+int64(h.NumCells)*tableEntrySize > size {
		return Header{}, fmt.Errorf("%w: table offsets out of range", errBadHeader)
	}
	return h, nil
}

// --------------------------------------------------------------------

// appendRecord frames a payload as a record and appends it to dst.
// snp is a scratch buffer for compression and is returned for reuse.
func appendRecord(dst []byte, key int64, payload []byte, c Compression, snp []byte) ([]byte, []byte) {
	flag := byte(recordNoCompression)
	if c == SnappyCompression {
		snp = snappy.Encode(snp[:cap(snp)], payload)
		if len(snp) < len(payload)-len(payload)/4 {
			payload, flag = snp, recordSnappyCompression
		}
	}

	var head [recordHeaderSize]byte
	binary.LittleEndian.PutUint64(head[0:], uint64(key))
	binary.LittleEndian.PutUint32(head[8:], uint32(len(payload)))
	head[12] = flag

	dst = append(dst, head[:]...)
	dst = append(dst, payload...)
	return dst, snp
}

// readRecordBody reads the record that follows a record key and passes the
// plain payload to fn. The payload must not be retained by fn.
func readRecordBody(r io.Reader, fn func([]byte) error) error {
	var head [recordHeaderSize - recordKeySize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return noEOF(err)
	}

	n := binary.LittleEndian.Uint32(head[0:])
	if n > maxRecordSize {
		return fmt.Errorf("%w: length %d", errBadRecord, n)
	}

	raw := fetchBuffer(int(n))
	defer releaseBuffer(raw)

	if _, err := io.ReadFull(r, raw); err != nil {
		return noEOF(err)
	}

	switch head[4] {
	case recordNoCompression:
		return fn(raw)
	case recordSnappyCompression:
		sz, err := snappy.DecodedLen(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", errBadRecord, err)
		}
		if sz > maxRecordSize {
			return fmt.Errorf("%w: decoded length %d", errBadRecord, sz)
		}

		plain := fetchBuffer(sz)
		defer releaseBuffer(plain)

		if plain, err = snappy.Decode(plain, raw); err != nil {
			return fmt.Errorf("%w: %v", errBadRecord, err)
		}
		return fn(plain)
	default:
		return errBadCompression
	}
}

// readRecord reads a full record including its key.
func readRecord(r io.Reader, fn func(key int64, payload []byte) error) error {
	var kb [recordKeySize]byte
	if _, err := io.ReadFull(r, kb[:]); err != nil {
		return noEOF(err)
	}

	key := int64(binary.LittleEndian.Uint64(kb[:]))
	return readRecordBody(r, func(p []byte) error { return fn(key, p) })
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// --------------------------------------------------------------------

var bufPool sync.Pool

func fetchBuffer(sz int) []byte {
	if v := bufPool.Get(); v != nil {
		if p := v.([]byte); sz <= cap(p) {
			return p[:sz]
		}
	}
	return make([]byte, sz)
}

func releaseBuffer(p []byte) {
	if cap(p) != 0 {
		bufPool.Put(p)
	}
}
