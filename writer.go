package roadsnap

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/bsm/roadsnap/compactmap"
	"github.com/golang/geo/s2"
)

// WriterOptions define writer specific options.
type WriterOptions struct {
	// CellLevel is the S2 level of the grid cells.
	// Default: 13 (roughly 1km edges).
	CellLevel int

	// Timestamp is the snapshot time.
	// Default: time of Close.
	Timestamp time.Time

	// The compression codec to use for record payloads.
	// Default: SnappyCompression.
	Compression Compression
}

func (o *WriterOptions) norm() *WriterOptions {
	var oo WriterOptions
	if o != nil {
		oo = *o
	}

	if oo.CellLevel < 1 || oo.CellLevel > maxCellLevel {
		oo.CellLevel = 13
	}
	if !oo.Compression.isValid() {
		oo.Compression = SnappyCompression
	}

	return &oo
}

// Writer instances can write a shard. Entities are buffered in memory and
// written on Close.
type Writer struct {
	w io.Writer
	o *WriterOptions

	nodes  *compactmap.Map[int64, *Node]
	roads  *compactmap.Map[int64, *Road]
	bounds s2.Rect

	buf []byte // payload buffer
	snp []byte // snappy buffer
	tmp []byte // scratch buffer
}

// NewWriter wraps a writer and returns a Writer.
func NewWriter(w io.Writer, o *WriterOptions) *Writer {
	nodes, _ := compactmap.New[int64, *Node](0, compactmap.Int64Hash)
	roads, _ := compactmap.New[int64, *Road](0, compactmap.Int64Hash)

	return &Writer{
		w:      w,
		o:      o.norm(),
		nodes:  nodes,
		roads:  roads,
		bounds: s2.EmptyRect(),
		tmp:    make([]byte, headerSize),
	}
}

// AddNode adds a node. Node IDs must be unique within a shard.
func (w *Writer) AddNode(n *Node) error {
	if w.tmp == nil {
		return errClosed
	}

	node := *n
	if err := w.nodes.Add(node.ID, &node); err != nil {
		return fmt.Errorf("roadsnap: node %d: %w", node.ID, err)
	}
	w.bounds = w.bounds.AddPoint(node.LatLng())
	return nil
}

// AddRoad adds a road. Road IDs must be unique within a shard. Nodes
// referenced by the road may live in other shards.
func (w *Writer) AddRoad(r *Road) error {
	if w.tmp == nil {
		return errClosed
	}

	road := *r
	road.Nodes = append([]int64(nil), r.Nodes...)
	if err := w.roads.Add(road.ID, &road); err != nil {
		return fmt.Errorf("roadsnap: road %d: %w", road.ID, err)
	}
	return nil
}

// Close writes the shard. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.tmp == nil {
		return errClosed
	}

	nodes := sortedValues(w.nodes)
	roads := sortedValues(w.roads)
	cells := w.buildCells(roads)

	numNodes, err := entityCount("nodes", len(nodes))
	if err != nil {
		return err
	}
	numRoads, err := entityCount("roads", len(roads))
	if err != nil {
		return err
	}
	numCells, err := entityCount("cells", len(cells))
	if err != nil {
		return err
	}

	hdr := Header{
		Version:   formatVersion,
		Timestamp: w.o.Timestamp,
		CellLevel: int32(w.o.CellLevel),
		NumNodes:  numNodes,
		NumRoads:  numRoads,
		NumCells:  numCells,
	}
	if hdr.Timestamp.IsZero() {
		hdr.Timestamp = time.Now()
	}
	hdr.setBounds(w.bounds)
	hdr.RoadTableOffset = headerSize + int64(len(nodes))*tableEntrySize
	hdr.CellTableOffset = hdr.RoadTableOffset + int64(len(roads))*tableEntrySize
	payloadOffset := hdr.CellTableOffset + int64(len(cells))*tableEntrySize

	table := make([]byte, 0, (len(nodes)+len(roads)+len(cells))*tableEntrySize)
	for _, n := range nodes {
		table = w.appendEntity(table, payloadOffset, n.ID, n.appendPayload)
	}
	for _, r := range roads {
		table = w.appendEntity(table, payloadOffset, r.ID, r.appendPayload)
	}
	for _, c := range cells {
		table = w.appendEntity(table, payloadOffset, c.ID, c.appendPayload)
	}

	if err := w.writeRaw(hdr.encode(w.tmp)); err != nil {
		return err
	}
	if err := w.writeRaw(table); err != nil {
		return err
	}
	if err := w.writeRaw(w.buf); err != nil {
		return err
	}

	w.tmp = nil
	w.buf = nil
	w.snp = nil
	return nil
}

// appendEntity encodes a record into the payload buffer and appends its
// table entry.
func (w *Writer) appendEntity(table []byte, payloadOffset, id int64, payload func([]byte) []byte) []byte {
	offset := payloadOffset + int64(len(w.buf))

	plain := payload(w.tmp[:0])
	w.buf, w.snp = appendRecord(w.buf, id, plain, w.o.Compression, w.snp)
	w.tmp = plain[:0]

	table = binary.LittleEndian.AppendUint64(table, uint64(id))
	return binary.LittleEndian.AppendUint64(table, uint64(offset))
}

// buildCells indexes roads by the grid cells of their nodes.
func (w *Writer) buildCells(roads []*Road) []*Cell {
	cells, _ := compactmap.New[int64, *Cell](0, compactmap.Int64Hash)

	for _, road := range roads {
		for _, id := range road.Nodes {
			node, ok := w.nodes.TryGet(id)
			if !ok {
				continue
			}

			key := int64(cellID(node.LatLng(), w.o.CellLevel))
			cell, ok := cells.TryGet(key)
			if !ok {
				cell = &Cell{ID: key}
				cells.Set(key, cell)
			}
			if n := len(cell.Roads); n == 0 || cell.Roads[n-1] != road.ID {
				cell.Roads = append(cell.Roads, road.ID)
			}
		}
	}
	return sortedValues(cells)
}

// entityCount converts n to a header count.
func entityCount(kind string, n int) (int32, error) {
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("roadsnap: too many %s: %d", kind, n)
	}
	return int32(n), nil
}

func (w *Writer) writeRaw(p []byte) error {
	_, err := w.w.Write(p)
	return err
}

func sortedValues[V any](m *compactmap.Map[int64, V]) []V {
	keys := make([]int64, 0, m.Len())
	m.Each(func(k int64, _ V) bool {
		keys = append(keys, k)
		return true
	})
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	vals := make([]V, 0, len(keys))
	for _, k := range keys {
		v, _ := m.TryGet(k)
		vals = append(vals, v)
	}
	return vals
}
