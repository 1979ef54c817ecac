package roadsnap

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/golang/geo/s2"
)

// RoadClass is the functional class of a road.
type RoadClass uint8

// Road classes, roughly ordered by motor traffic.
const (
	ClassUnknown RoadClass = iota
	ClassPath
	ClassCycleway
	ClassTrack
	ClassResidential
	ClassTertiary
	ClassSecondary
	ClassPrimary
	ClassTrunk
	ClassMotorway
)

var roadClassNames = []string{
	"unknown", "path", "cycleway", "track", "residential",
	"tertiary", "secondary", "primary", "trunk", "motorway",
}

func (c RoadClass) String() string {
	if int(c) < len(roadClassNames) {
		return roadClassNames[c]
	}
	return fmt.Sprintf("RoadClass(%d)", uint8(c))
}

// ParseRoadClass parses a class name as returned by RoadClass.String.
func ParseRoadClass(s string) (RoadClass, bool) {
	for i, name := range roadClassNames {
		if name == s {
			return RoadClass(i), true
		}
	}
	return ClassUnknown, false
}

// --------------------------------------------------------------------

// Node is a point of the road network.
type Node struct {
	ID        int64
	Lat, Lng  float32 // degrees
	Elevation int16   // metres
}

// LatLng returns the node position.
func (n *Node) LatLng() s2.LatLng {
	return s2.LatLngFromDegrees(float64(n.Lat), float64(n.Lng))
}

func (n *Node) appendPayload(dst []byte) []byte {
	var b [10]byte
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(n.Lat))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(n.Lng))
	binary.LittleEndian.PutUint16(b[8:], uint16(n.Elevation))
	return append(dst, b[:]...)
}

func decodeNode(id int64, p []byte) (*Node, error) {
	if len(p) != 10 {
		return nil, fmt.Errorf("%w: node %d payload size %d", errBadRecord, id, len(p))
	}
	return &Node{
		ID:        id,
		Lat:       math.Float32frombits(binary.LittleEndian.Uint32(p[0:])),
		Lng:       math.Float32frombits(binary.LittleEndian.Uint32(p[4:])),
		Elevation: int16(binary.LittleEndian.Uint16(p[8:])),
	}, nil
}

// --------------------------------------------------------------------

// Road is a way between two or more nodes.
type Road struct {
	ID    int64
	Class RoadClass
	Name  string
	Nodes []int64
}

// Equal reports whether two roads are identical.
func (r *Road) Equal(o *Road) bool {
	if r.ID != o.ID || r.Class != o.Class || r.Name != o.Name || len(r.Nodes) != len(o.Nodes) {
		return false
	}
	for i, id := range r.Nodes {
		if o.Nodes[i] != id {
			return false
		}
	}
	return true
}

func (r *Road) appendPayload(dst []byte) []byte {
	dst = append(dst, byte(r.Class))
	dst = appendUvarint(dst, uint64(len(r.Name)))
	dst = append(dst, r.Name...)
	return appendIDs(dst, r.Nodes)
}

func decodeRoad(id int64, p []byte) (*Road, error) {
	d := decoder{p: p}
	road := &Road{ID: id, Class: RoadClass(d.byte())}
	road.Name = string(d.bytes(int(d.uvarint())))
	road.Nodes = d.ids()
	d.end()
	if d.err != nil {
		return nil, fmt.Errorf("%w: road %d", d.err, id)
	}
	return road, nil
}

// --------------------------------------------------------------------

// Cell is a grid cell listing the roads with a node inside it.
type Cell struct {
	ID    int64
	Roads []int64 // ascending
}

// CellID returns the S2 cell ID.
func (c *Cell) CellID() s2.CellID { return s2.CellID(c.ID) }

func (c *Cell) appendPayload(dst []byte) []byte {
	return appendIDs(dst, c.Roads)
}

func decodeCell(id int64, p []byte) (*Cell, error) {
	d := decoder{p: p}
	cell := &Cell{ID: id, Roads: d.ids()}
	d.end()
	if d.err != nil {
		return nil, fmt.Errorf("%w: cell %d", d.err, id)
	}
	return cell, nil
}

// union returns a cell holding the roads of both c and o.
func (c *Cell) union(o *Cell) *Cell {
	roads := make([]int64, 0, len(c.Roads)+len(o.Roads))
	roads = append(roads, c.Roads...)
	roads = append(roads, o.Roads...)
	sort.Slice(roads, func(i, j int) bool { return roads[i] < roads[j] })

	n := 0
	for i, id := range roads {
		if i == 0 || id != roads[n-1] {
			roads[n] = id
			n++
		}
	}
	return &Cell{ID: c.ID, Roads: roads[:n]}
}

// --------------------------------------------------------------------

// LoadNode decodes a node from one or more shard records. Records must
// agree, otherwise ErrConflict is returned.
func LoadNode(id int64, records []io.Reader) (*Node, error) {
	return mergeRecords(id, records, decodeNode, func(a, b *Node) (*Node, error) {
		if *a != *b {
			return nil, fmt.Errorf("%w: node %d", ErrConflict, id)
		}
		return a, nil
	})
}

// LoadRoad decodes a road from one or more shard records. Records must
// agree, otherwise ErrConflict is returned.
func LoadRoad(id int64, records []io.Reader) (*Road, error) {
	return mergeRecords(id, records, decodeRoad, func(a, b *Road) (*Road, error) {
		if !a.Equal(b) {
			return nil, fmt.Errorf("%w: road %d", ErrConflict, id)
		}
		return a, nil
	})
}

// LoadCell decodes a cell from one or more shard records. A cell split
// across tiles is merged into the union of its roads.
func LoadCell(id int64, records []io.Reader) (*Cell, error) {
	return mergeRecords(id, records, decodeCell, func(a, b *Cell) (*Cell, error) {
		return a.union(b), nil
	})
}

func mergeRecords[V any](id int64, records []io.Reader, decode func(int64, []byte) (V, error), merge func(a, b V) (V, error)) (V, error) {
	var acc V
	for i, r := range records {
		var v V
		err := readRecordBody(r, func(p []byte) (err error) {
			v, err = decode(id, p)
			return
		})
		if err != nil {
			return acc, err
		}

		if i == 0 {
			acc = v
		} else if acc, err = merge(acc, v); err != nil {
			return acc, err
		}
	}
	return acc, nil
}

// --------------------------------------------------------------------

func appendUvarint(dst []byte, v uint64) []byte {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	return append(dst, b[:n]...)
}

func appendVarint(dst []byte, v int64) []byte {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutVarint(b[:], v)
	return append(dst, b[:n]...)
}

// appendIDs appends a count followed by delta-encoded ids.
func appendIDs(dst []byte, ids []int64) []byte {
	dst = appendUvarint(dst, uint64(len(ids)))

	var prev int64
	for _, id := range ids {
		dst = appendVarint(dst, id-prev)
		prev = id
	}
	return dst
}

type decoder struct {
	p   []byte
	err error
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = errBadRecord
	}
	d.p = nil
}

// end fails on trailing bytes.
func (d *decoder) end() {
	if len(d.p) != 0 {
		d.fail()
	}
}

func (d *decoder) byte() byte {
	if len(d.p) < 1 {
		d.fail()
		return 0
	}
	b := d.p[0]
	d.p = d.p[1:]
	return b
}

func (d *decoder) bytes(n int) []byte {
	if n < 0 || len(d.p) < n {
		d.fail()
		return nil
	}
	b := d.p[:n]
	d.p = d.p[n:]
	return b
}

func (d *decoder) uvarint() uint64 {
	v, n := binary.Uvarint(d.p)
	if n <= 0 {
		d.fail()
		return 0
	}
	d.p = d.p[n:]
	return v
}

func (d *decoder) varint() int64 {
	v, n := binary.Varint(d.p)
	if n <= 0 {
		d.fail()
		return 0
	}
	d.p = d.p[n:]
	return v
}

func (d *decoder) ids() []int64 {
	n := d.uvarint()
	if n > uint64(len(d.p)) { // every id takes at least one byte
		d.fail()
		return nil
	}

	ids := make([]int64, 0, int(n))
	var prev int64
	for i := uint64(0); i < n && d.err == nil; i++ {
		prev += d.varint()
		ids = append(ids, prev)
	}
	return ids
}
