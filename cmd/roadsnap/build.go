package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bsm/roadsnap"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

type nodeJSON struct {
	ID        int64   `json:"id"`
	Lat       float32 `json:"lat"`
	Lng       float32 `json:"lng"`
	Elevation int16   `json:"elevation,omitempty"`
}

type roadJSON struct {
	ID    int64   `json:"id"`
	Class string  `json:"class,omitempty"`
	Name  string  `json:"name,omitempty"`
	Nodes []int64 `json:"nodes"`
}

type cellJSON struct {
	ID    int64   `json:"id"`
	Token string  `json:"token"`
	Level int     `json:"level"`
	Roads []int64 `json:"roads"`
}

// dumpJSON is the build input.
type dumpJSON struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Nodes     []nodeJSON `json:"nodes"`
	Roads     []roadJSON `json:"roads"`
}

func readDump(path string) (*dumpJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, errors.E(errors.Invalid, "parse "+path, err)
	}

	var dump dumpJSON
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dump); err != nil {
		return nil, errors.E(errors.Invalid, "parse "+path, err)
	}
	return &dump, nil
}

// buildCmd writes a shard from an entity dump:
//
//	roadsnap build [flags] <input.json> <output>
func buildCmd(c *command) error {
	if len(c.args()) != 2 {
		return errUsage
	}
	input, output := c.path(c.args()[0]), c.path(c.args()[1])

	dump, err := readDump(input)
	if err != nil {
		return err
	}

	o := c.cfg.writerOptions()
	if dump.Timestamp != nil {
		o.Timestamp = *dump.Timestamp
	}

	buf := new(bytes.Buffer)
	w := roadsnap.NewWriter(buf, o)
	for _, n := range dump.Nodes {
		if err := w.AddNode(&roadsnap.Node{ID: n.ID, Lat: n.Lat, Lng: n.Lng, Elevation: n.Elevation}); err != nil {
			return errors.E(errors.Invalid, "build "+input, err)
		}
	}
	for _, r := range dump.Roads {
		class := roadsnap.ClassUnknown
		if r.Class != "" {
			var ok bool
			if class, ok = roadsnap.ParseRoadClass(r.Class); !ok {
				return errors.E(errors.Invalid, fmt.Sprintf("build %s: road %d has unknown class %q", input, r.ID, r.Class))
			}
		}
		if err := w.AddRoad(&roadsnap.Road{ID: r.ID, Class: class, Name: r.Name, Nodes: r.Nodes}); err != nil {
			return errors.E(errors.Invalid, "build "+input, err)
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	if err := atomic.WriteFile(output, bytes.NewReader(buf.Bytes())); err != nil {
		return errors.E("write "+output, err)
	}
	log.Printf("wrote %s: %d nodes, %d roads, %d bytes", output, len(dump.Nodes), len(dump.Roads), buf.Len())
	return nil
}
