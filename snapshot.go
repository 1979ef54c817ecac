package roadsnap

import (
	"errors"
	"fmt"
	"os"

	"github.com/bsm/roadsnap/compactmap"
	"github.com/golang/geo/s2"
)

// Options define snapshot specific options.
type Options struct {
	// NodeLimit is the number of resident nodes per session.
	// Default: 65536.
	NodeLimit int

	// RoadLimit is the number of resident roads per session.
	// Default: 16384.
	RoadLimit int

	// CellLimit is the number of resident grid cells per session.
	// Default: 1024.
	CellLimit int
}

func (o *Options) norm() *Options {
	var oo Options
	if o != nil {
		oo = *o
	}

	if oo.NodeLimit < 1 {
		oo.NodeLimit = 1 << 16
	}
	if oo.RoadLimit < 1 {
		oo.RoadLimit = 1 << 14
	}
	if oo.CellLimit < 1 {
		oo.CellLimit = 1 << 10
	}

	return &oo
}

// Snapshot is a road network split across one or more shards. The
// snapshot itself is immutable and safe for concurrent use; lookups go
// through sessions.
type Snapshot struct {
	shards []*Shard
	files  []*os.File
	o      *Options
	level  int
}

// Open opens shard files and loads their offset tables.
func Open(paths []string, o *Options) (*Snapshot, error) {
	if len(paths) == 0 {
		return nil, errors.New("roadsnap: no shards given")
	}

	files := make([]*os.File, 0, len(paths))
	shards := make([]*Shard, 0, len(paths))
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, err
		}
		files = append(files, f)

		fs, err := f.Stat()
		if err != nil {
			closeAll()
			return nil, err
		}

		shard, err := OpenShard(f, fs.Size())
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("roadsnap: open %s: %w", path, err)
		}
		shards = append(shards, shard)
	}

	snap, err := NewSnapshot(shards, o)
	if err != nil {
		closeAll()
		return nil, err
	}
	snap.files = files
	return snap, nil
}

// NewSnapshot combines already opened shards. Shards must share the same
// grid cell level.
func NewSnapshot(shards []*Shard, o *Options) (*Snapshot, error) {
	level := -1
	for _, s := range shards {
		if hl := int(s.hdr.CellLevel); level < 0 {
			level = hl
		} else if hl != level {
			return nil, fmt.Errorf("roadsnap: shards mix cell levels %d and %d", level, hl)
		}
	}

	return &Snapshot{
		shards: shards,
		o:      o.norm(),
		level:  level,
	}, nil
}

// Shards returns the shards, in lookup order.
func (s *Snapshot) Shards() []*Shard { return s.shards }

// CellLevel returns the S2 level of the grid cells or -1 for an empty snapshot.
func (s *Snapshot) CellLevel() int { return s.level }

// Bounds returns the union of all shard bounds.
func (s *Snapshot) Bounds() s2.Rect {
	bounds := s2.EmptyRect()
	for _, shard := range s.shards {
		hdr := shard.Header()
		bounds = bounds.Union(hdr.Bounds())
	}
	return bounds
}

// NewSession creates a session with its own caches.
func (s *Snapshot) NewSession() (*Session, error) {
	var nodes, roads, cells []*OffsetIndex[int64]
	for _, shard := range s.shards {
		nodes = append(nodes, shard.nodes)
		roads = append(roads, shard.roads)
		cells = append(cells, shard.cells)
	}

	sess := &Session{level: s.level}

	var err error
	if sess.Nodes, err = NewPagedCache(nodes, compactmap.Int64Hash, LoadNode, &CacheOptions{
		MemoryLimit: s.o.NodeLimit,
		ExtraOffset: recordKeySize,
	}); err != nil {
		return nil, err
	}
	if sess.Roads, err = NewPagedCache(roads, compactmap.Int64Hash, LoadRoad, &CacheOptions{
		MemoryLimit: s.o.RoadLimit,
		ExtraOffset: recordKeySize,
	}); err != nil {
		return nil, err
	}
	if sess.Cells, err = NewPagedCache(cells, compactmap.Int64Hash, LoadCell, &CacheOptions{
		MemoryLimit: s.o.CellLimit,
		ExtraOffset: recordKeySize,
	}); err != nil {
		return nil, err
	}
	return sess, nil
}

// Close closes the shard files opened by Open.
func (s *Snapshot) Close() error {
	var err error
	for _, f := range s.files {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}
	s.files = nil
	return err
}

// --------------------------------------------------------------------

// Session serves lookups against a snapshot. Sessions are not safe for
// concurrent use; create one per goroutine.
type Session struct {
	Nodes *PagedCache[int64, *Node]
	Roads *PagedCache[int64, *Road]
	Cells *PagedCache[int64, *Cell]

	level int
}

// Node returns a node or ErrNotFound.
func (s *Session) Node(id int64) (*Node, error) { return s.Nodes.Get(id) }

// Road returns a road or ErrNotFound.
func (s *Session) Road(id int64) (*Road, error) { return s.Roads.Get(id) }

// Cell returns a grid cell or ErrNotFound.
func (s *Session) Cell(id int64) (*Cell, error) { return s.Cells.Get(id) }

// CellAt returns the grid cell containing ll or ErrNotFound.
func (s *Session) CellAt(ll s2.LatLng) (*Cell, error) {
	if s.level < 0 {
		return nil, ErrNotFound
	}
	return s.Cells.Get(int64(cellID(ll, s.level)))
}

// HasNode reports whether any shard holds the node.
func (s *Session) HasNode(id int64) bool { return s.Nodes.ContainsKey(id) }

// HasRoad reports whether any shard holds the road.
func (s *Session) HasRoad(id int64) bool { return s.Roads.ContainsKey(id) }

// HasCell reports whether any shard holds the grid cell.
func (s *Session) HasCell(id int64) bool { return s.Cells.ContainsKey(id) }

// Stats returns a human-readable summary of the cache counters.
func (s *Session) Stats() string {
	return fmt.Sprintf("nodes: %s\nroads: %s\ncells: %s", s.Nodes.Stats(), s.Roads.Stats(), s.Cells.Stats())
}
