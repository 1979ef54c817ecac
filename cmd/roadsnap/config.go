package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/bsm/roadsnap"
	"github.com/grailbio/base/errors"
	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

// ConfigFileName is the name of the optional config file in the working
// directory.
const ConfigFileName = ".roadsnap.json"

// Config holds the CLI settings. Values are layered: defaults, then the
// config file, then flags.
type Config struct {
	Shards      []string `json:"shards,omitempty"`
	CellLevel   int      `json:"cell_level,omitempty"`
	Compression string   `json:"compression,omitempty"`
	NodeLimit   int      `json:"node_limit,omitempty"`
	RoadLimit   int      `json:"road_limit,omitempty"`
	CellLimit   int      `json:"cell_limit,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		CellLevel:   13,
		Compression: "snappy",
		NodeLimit:   1 << 16,
		RoadLimit:   1 << 14,
		CellLimit:   1 << 10,
	}
}

// LoadConfig merges the defaults with the config file. An explicit
// configPath must exist, the default file in workDir is optional. It
// returns the path of the loaded file, if any.
func LoadConfig(workDir, configPath string) (Config, string, error) {
	cfg := DefaultConfig()

	path, mustExist := configPath, true
	if path == "" {
		path, mustExist = filepath.Join(workDir, ConfigFileName), false
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !mustExist {
		return cfg, "", nil
	} else if err != nil {
		return Config{}, "", errors.E(errors.NotExist, "read config "+path, err)
	}

	fileCfg, err := parseConfig(data)
	if err != nil {
		return Config{}, "", errors.E(errors.Invalid, "parse config "+path, err)
	}
	return mergeConfig(cfg, fileCfg), path, nil
}

func parseConfig(data []byte) (Config, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if len(overlay.Shards) != 0 {
		base.Shards = overlay.Shards
	}
	if overlay.CellLevel != 0 {
		base.CellLevel = overlay.CellLevel
	}
	if overlay.Compression != "" {
		base.Compression = overlay.Compression
	}
	if overlay.NodeLimit != 0 {
		base.NodeLimit = overlay.NodeLimit
	}
	if overlay.RoadLimit != 0 {
		base.RoadLimit = overlay.RoadLimit
	}
	if overlay.CellLimit != 0 {
		base.CellLimit = overlay.CellLimit
	}
	return base
}

// registerFlags adds the shared flags to fs.
func registerFlags(fs *flag.FlagSet) {
	fs.StringP("config", "c", "", "config file (default ./"+ConfigFileName+")")
	fs.StringSliceP("shard", "s", nil, "shard file, may be repeated")
	fs.Int("cell-level", 0, "S2 level of grid cells")
	fs.String("compression", "", "record compression: snappy or none")
	fs.Int("node-limit", 0, "resident nodes per session")
	fs.Int("road-limit", 0, "resident roads per session")
	fs.Int("cell-limit", 0, "resident cells per session")
}

// resolveConfig loads the config file named by the parsed flags and
// applies explicitly set flags on top.
func resolveConfig(workDir string, fs *flag.FlagSet) (Config, error) {
	configPath, _ := fs.GetString("config")
	cfg, _, err := LoadConfig(workDir, configPath)
	if err != nil {
		return Config{}, err
	}

	var over Config
	if fs.Changed("shard") {
		over.Shards, _ = fs.GetStringSlice("shard")
	}
	if fs.Changed("cell-level") {
		over.CellLevel, _ = fs.GetInt("cell-level")
	}
	if fs.Changed("compression") {
		over.Compression, _ = fs.GetString("compression")
	}
	if fs.Changed("node-limit") {
		over.NodeLimit, _ = fs.GetInt("node-limit")
	}
	if fs.Changed("road-limit") {
		over.RoadLimit, _ = fs.GetInt("road-limit")
	}
	if fs.Changed("cell-limit") {
		over.CellLimit, _ = fs.GetInt("cell-limit")
	}
	cfg = mergeConfig(cfg, over)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.CellLevel < 1 || c.CellLevel > 30 {
		return errors.E(errors.Invalid, "cell_level must be between 1 and 30")
	}
	if _, err := c.compression(); err != nil {
		return err
	}
	if c.NodeLimit < 1 || c.RoadLimit < 1 || c.CellLimit < 1 {
		return errors.E(errors.Invalid, "cache limits must be positive")
	}
	return nil
}

func (c Config) compression() (roadsnap.Compression, error) {
	switch c.Compression {
	case "snappy":
		return roadsnap.SnappyCompression, nil
	case "none":
		return roadsnap.NoCompression, nil
	}
	return 0, errors.E(errors.Invalid, "unknown compression "+c.Compression)
}

func (c Config) writerOptions() *roadsnap.WriterOptions {
	comp, _ := c.compression()
	return &roadsnap.WriterOptions{
		CellLevel:   c.CellLevel,
		Compression: comp,
	}
}

func (c Config) options() *roadsnap.Options {
	return &roadsnap.Options{
		NodeLimit: c.NodeLimit,
		RoadLimit: c.RoadLimit,
		CellLimit: c.CellLimit,
	}
}
