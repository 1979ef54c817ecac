package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bsm/roadsnap"
	"github.com/golang/geo/s2"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// openShard opens a single shard file. The caller must close the file.
func openShard(path string) (*os.File, *roadsnap.Shard, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	fs, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}

	shard, err := roadsnap.OpenShard(f, fs.Size())
	if err != nil {
		_ = f.Close()
		return nil, nil, errors.E("open "+path, err)
	}
	return f, shard, nil
}

// infoCmd prints shard headers:
//
//	roadsnap info [flags] [shard...]
func infoCmd(c *command) error {
	paths, err := c.shards()
	if err != nil {
		return err
	}

	for _, path := range paths {
		f, shard, err := openShard(path)
		if err != nil {
			return err
		}
		_ = f.Close()

		hdr := shard.Header()
		fmt.Fprintf(c.stdout, "%s\n", path)
		fmt.Fprintf(c.stdout, "  version:    %d\n", hdr.Version)
		fmt.Fprintf(c.stdout, "  timestamp:  %s\n", hdr.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(c.stdout, "  cell level: %d\n", hdr.CellLevel)
		fmt.Fprintf(c.stdout, "  bounds:     N %.6f E %.6f S %.6f W %.6f\n", hdr.North, hdr.East, hdr.South, hdr.West)
		fmt.Fprintf(c.stdout, "  nodes:      %d\n", hdr.NumNodes)
		fmt.Fprintf(c.stdout, "  roads:      %d\n", hdr.NumRoads)
		fmt.Fprintf(c.stdout, "  cells:      %d\n", hdr.NumCells)
		fmt.Fprintf(c.stdout, "  size:       %d\n", shard.Size())
	}
	return nil
}

// getCmd prints entities as JSON lines:
//
//	roadsnap get [flags] <node|road|cell> <id|lat,lng>...
func getCmd(c *command) error {
	args := c.args()
	if len(args) < 2 {
		return errUsage
	}
	if len(c.cfg.Shards) == 0 {
		return errors.E(errors.Invalid, "get: no shards given, use --shard or the config file")
	}

	paths := make([]string, 0, len(c.cfg.Shards))
	for _, p := range c.cfg.Shards {
		paths = append(paths, c.path(p))
	}

	snap, err := roadsnap.Open(paths, c.cfg.options())
	if err != nil {
		return err
	}
	defer snap.Close()

	sess, err := snap.NewSession()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.stdout)
	kind := args[0]
	for _, arg := range args[1:] {
		v, err := lookup(sess, kind, arg)
		if errors.Is(errors.NotExist, err) {
			log.Error.Printf("%s %s: not found", kind, arg)
			continue
		} else if err != nil {
			return err
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
	}

	if stats, _ := c.flags.GetBool("stats"); stats {
		log.Printf("cache stats\n%s", sess.Stats())
	}
	return nil
}

func lookup(sess *roadsnap.Session, kind, arg string) (interface{}, error) {
	if kind == "cell" && strings.Contains(arg, ",") {
		ll, err := parseLatLng(arg)
		if err != nil {
			return nil, err
		}
		cell, err := sess.CellAt(ll)
		if err != nil {
			return nil, lookupErr(kind, arg, err)
		}
		return newCellJSON(cell), nil
	}

	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return nil, errors.E(errors.Invalid, "bad id "+arg, err)
	}

	switch kind {
	case "node":
		n, err := sess.Node(id)
		if err != nil {
			return nil, lookupErr(kind, arg, err)
		}
		return nodeJSON{ID: n.ID, Lat: n.Lat, Lng: n.Lng, Elevation: n.Elevation}, nil
	case "road":
		r, err := sess.Road(id)
		if err != nil {
			return nil, lookupErr(kind, arg, err)
		}
		return roadJSON{ID: r.ID, Class: r.Class.String(), Name: r.Name, Nodes: r.Nodes}, nil
	case "cell":
		cell, err := sess.Cell(id)
		if err != nil {
			return nil, lookupErr(kind, arg, err)
		}
		return newCellJSON(cell), nil
	}
	return nil, errors.E(errors.Invalid, "unknown kind "+kind)
}

func lookupErr(kind, arg string, err error) error {
	if err == roadsnap.ErrNotFound {
		return errors.E(errors.NotExist, kind+" "+arg, err)
	}
	return errors.E(kind+" "+arg, err)
}

func newCellJSON(c *roadsnap.Cell) cellJSON {
	id := c.CellID()
	return cellJSON{ID: c.ID, Token: id.ToToken(), Level: id.Level(), Roads: c.Roads}
}

func parseLatLng(s string) (s2.LatLng, error) {
	latStr, lngStr, _ := strings.Cut(s, ",")
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return s2.LatLng{}, errors.E(errors.Invalid, "bad latitude in "+s, err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return s2.LatLng{}, errors.E(errors.Invalid, "bad longitude in "+s, err)
	}
	return s2.LatLngFromDegrees(lat, lng), nil
}

// verifyCmd reads every record of the given shards:
//
//	roadsnap verify [flags] [shard...]
func verifyCmd(c *command) error {
	paths, err := c.shards()
	if err != nil {
		return err
	}

	for _, path := range paths {
		f, shard, err := openShard(path)
		if err != nil {
			return err
		}

		start := time.Now()
		err = shard.Verify()
		_ = f.Close()
		if err != nil {
			return errors.E(errors.Integrity, "verify "+path, err)
		}

		hdr := shard.Header()
		log.Printf("%s: ok, %d nodes, %d roads, %d cells in %s", path, hdr.NumNodes, hdr.NumRoads, hdr.NumCells, time.Since(start))
	}
	return nil
}
