// Command roadsnap builds, inspects and queries road network shards.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	flag "github.com/spf13/pflag"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Roadsnap is a tool for building and querying road network shards.

Usage:

	roadsnap <command> [flags] [arguments]

The commands are:

	build    build a shard from a JSON entity dump
	info     print shard headers
	get      look up nodes, roads or grid cells across shards
	verify   check every record of the given shards

Configuration is read from ./%s unless --config is given; flags
override the file.
`, ConfigFileName)
	os.Exit(2)
}

var errUsage = errors.E(errors.Invalid, "usage")

func main() {
	log.SetFlags(0)
	log.SetPrefix("roadsnap: ")
	must.Func = log.Fatal

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}

	if err := run(os.Args[1:], cwd, os.Stdout); err == errUsage {
		usage()
	} else if err != nil {
		log.Fatal(err)
	}
}

// run executes a command with paths resolved against workDir.
func run(args []string, workDir string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	var cmd func(*command) error
	switch args[0] {
	case "build":
		cmd = buildCmd
	case "info":
		cmd = infoCmd
	case "get":
		cmd = getCmd
	case "verify":
		cmd = verifyCmd
	case "help", "-h", "--help":
		return errUsage
	default:
		return errors.E(errors.Invalid, "unknown command "+args[0])
	}

	c := &command{
		name:    args[0],
		workDir: workDir,
		stdout:  stdout,
		flags:   flag.NewFlagSet(args[0], flag.ContinueOnError),
	}
	registerFlags(c.flags)
	c.flags.SetOutput(io.Discard)
	c.flags.Bool("stats", false, "print cache statistics after lookups")

	if err := c.flags.Parse(args[1:]); err != nil {
		return errors.E(errors.Invalid, c.name, err)
	}

	var err error
	if c.cfg, err = resolveConfig(workDir, c.flags); err != nil {
		return err
	}
	return cmd(c)
}

type command struct {
	name    string
	workDir string
	stdout  io.Writer
	flags   *flag.FlagSet
	cfg     Config
}

func (c *command) args() []string { return c.flags.Args() }

// path resolves p against the working directory.
func (c *command) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.workDir, p)
}

// shards returns the positional arguments or, if none are given, the
// shards of the config.
func (c *command) shards() ([]string, error) {
	paths := c.args()
	if len(paths) == 0 {
		paths = c.cfg.Shards
	}
	if len(paths) == 0 {
		return nil, errors.E(errors.Invalid, c.name+": no shards given")
	}

	resolved := make([]string, 0, len(paths))
	for _, p := range paths {
		resolved = append(resolved, c.path(p))
	}
	return resolved, nil
}
