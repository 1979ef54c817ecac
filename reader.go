package roadsnap

import (
	"fmt"
	"io"
)

// Shard is an opened shard file. Offset tables are loaded on open,
// records are read on demand.
type Shard struct {
	r    io.ReaderAt
	size int64
	hdr  Header

	nodes *OffsetIndex[int64]
	roads *OffsetIndex[int64]
	cells *OffsetIndex[int64]
}

// OpenShard reads the header and offset tables of a shard.
func OpenShard(r io.ReaderAt, size int64) (*Shard, error) {
	if size < headerSize {
		return nil, errBadHeader
	}

	tmp := make([]byte, headerSize)
	if _, err := r.ReadAt(tmp, 0); err != nil {
		return nil, err
	}

	hdr, err := decodeHeader(tmp, size)
	if err != nil {
		return nil, err
	}

	nodes, err := ReadOffsetIndex(r, size, headerSize, int(hdr.NumNodes), Int64Keys)
	if err != nil {
		return nil, err
	}
	roads, err := ReadOffsetIndex(r, size, hdr.RoadTableOffset, int(hdr.NumRoads), Int64Keys)
	if err != nil {
		return nil, err
	}
	cells, err := ReadOffsetIndex(r, size, hdr.CellTableOffset, int(hdr.NumCells), Int64Keys)
	if err != nil {
		return nil, err
	}

	return &Shard{
		r:    r,
		size: size,
		hdr:  hdr,

		nodes: nodes,
		roads: roads,
		cells: cells,
	}, nil
}

// Header returns the shard header.
func (s *Shard) Header() Header { return s.hdr }

// Size returns the shard size in bytes.
func (s *Shard) Size() int64 { return s.size }

// Nodes returns the node offset index.
func (s *Shard) Nodes() *OffsetIndex[int64] { return s.nodes }

// Roads returns the road offset index.
func (s *Shard) Roads() *OffsetIndex[int64] { return s.roads }

// Cells returns the cell offset index.
func (s *Shard) Cells() *OffsetIndex[int64] { return s.cells }

// Verify reads every record in ascending offset order and checks that it
// decodes and carries the key it is indexed under.
func (s *Shard) Verify() error {
	if err := verifyRecords(s.nodes, "node", discard(decodeNode)); err != nil {
		return err
	}
	if err := verifyRecords(s.roads, "road", discard(decodeRoad)); err != nil {
		return err
	}
	return verifyRecords(s.cells, "cell", discard(decodeCell))
}

func verifyRecords(x *OffsetIndex[int64], kind string, decode func(int64, []byte) error) error {
	for _, ent := range x.SortedOffsets() {
		err := readRecord(x.Section(ent.Offset), func(key int64, p []byte) error {
			if key != ent.Key {
				return fmt.Errorf("%w: %s %d indexed at %d holds key %d", errBadRecord, kind, ent.Key, ent.Offset, key)
			}
			return decode(key, p)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func discard[V any](decode func(int64, []byte) (V, error)) func(int64, []byte) error {
	return func(id int64, p []byte) error {
		_, err := decode(id, p)
		return err
	}
}
