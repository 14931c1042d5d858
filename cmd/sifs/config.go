package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"github.com/mit-pdos/go-sifs/mkfs"
	"github.com/mit-pdos/go-sifs/super"
)

const (
	envVarPrefix = "SIFS"
	appName      = "sifs"
)

type Config struct {
	BlockSize uint64 `envconfig:"BLOCK_SIZE" yaml:"blockSize"`
	InodeSize uint64 `envconfig:"INODE_SIZE" yaml:"inodeSize"`
	Inodes    uint64 `envconfig:"INODES"     yaml:"inodes"`
	Name      string `envconfig:"NAME"       yaml:"name"`
	RootUid   uint32 `envconfig:"ROOT_UID"   yaml:"rootUid"`
	RootGid   uint32 `envconfig:"ROOT_GID"   yaml:"rootGid"`
	RootPerm  string `envconfig:"ROOT_PERM"  yaml:"rootPerm"`
	Debug     uint64 `envconfig:"DEBUG"      yaml:"debug"`
}

// LoadConfig reads configFile, or SIFS_CONFIG_FILE, or ~/.config/sifs.yaml,
// and then applies SIFS_* environment variables on top. Only the default
// file may be missing.
func LoadConfig(configFile string) (*Config, error) {
	if configFile == "" {
		configFile = os.Getenv(envVarPrefix + "_CONFIG_FILE")
	}
	optional := configFile == ""
	if optional {
		configFile = filepath.Join(os.Getenv("HOME"), ".config", appName+".yaml")
	}

	var c Config
	data, err := ioutil.ReadFile(configFile)
	if err != nil {
		if !optional || !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshaling config file: %w", err)
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	if _, err := c.Options(); err != nil {
		return nil, err
	}
	return &c, nil
}

// applyFlags lets flags given on the command line win over the file and the
// environment.
func (c *Config) applyFlags(ctx *cli.Context) {
	if ctx.IsSet("block-size") {
		c.BlockSize = ctx.Uint64("block-size")
	}
	if ctx.IsSet("inode-size") {
		c.InodeSize = ctx.Uint64("inode-size")
	}
	if ctx.IsSet("inodes") {
		c.Inodes = ctx.Uint64("inodes")
	}
	if ctx.IsSet("name") {
		c.Name = ctx.String("name")
	}
	if ctx.IsSet("debug") {
		c.Debug = ctx.Uint64("debug")
	}
}

// Options translates c for mkfs. An empty RootPerm keeps
// mkfs.DEFAULTROOTPERM; "0000" is a valid, explicit choice.
func (c *Config) Options() (mkfs.Options, error) {
	opts := mkfs.DefaultOptions()
	opts.Params = super.Params{
		BlockSize: c.BlockSize,
		InodeSize: c.InodeSize,
		NInode:    c.Inodes,
		Name:      c.Name,
	}
	opts.RootUid = c.RootUid
	opts.RootGid = c.RootGid
	if c.RootPerm != "" {
		perm, err := parsePerm(c.RootPerm)
		if err != nil {
			return mkfs.Options{}, err
		}
		opts.RootPerm = perm
	}
	return opts, nil
}

// parsePerm reads a permission mask written in octal, e.g. "0750".
func parsePerm(value string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(value), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing permissions %q: %w", value, err)
	}
	if n&^0777 != 0 {
		return 0, fmt.Errorf("permissions %q: only 0777 bits allowed", value)
	}
	return uint32(n), nil
}

var sizeSuffixes = map[string]uint64{
	"K": 1 << 10,
	"M": 1 << 20,
	"G": 1 << 30,
}

// parseSize accepts a byte count with an optional K, M or G suffix.
func parseSize(s string) (uint64, error) {
	mult := uint64(1)
	num := strings.TrimSpace(s)
	if n := len(num); n > 0 {
		if m, ok := sizeSuffixes[strings.ToUpper(num[n-1:])]; ok {
			mult = m
			num = num[:n-1]
		}
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing size %q: %w", s, err)
	}
	if n != 0 && n*mult/mult != n {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return n * mult, nil
}
