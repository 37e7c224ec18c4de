package main

import (
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-hashmap/hashtable"
	"github.com/unixpickle/dist-hashmap/kmer"
	"github.com/unixpickle/dist-hashmap/partition"
)

const envPrefix = "HASHBENCH_"

// RunInfo describes a specific network configuration.
type RunInfo struct {
	NumNodes int     `koanf:"nodes"`
	Latency  float64 `koanf:"latency"`
	Rate     float64 `koanf:"rate"`
}

// Config is the benchmark matrix.
type Config struct {
	Runs []RunInfo `koanf:"runs"`

	// KeysPerNode is the number of k-mers each node
	// inserts and then looks up.
	KeysPerNode int `koanf:"keys-per-node"`

	// LoadFactor is the fraction of slots that end up
	// used.
	LoadFactor float64 `koanf:"load-factor"`

	KmerLength int      `koanf:"kmer-length"`
	Partition  string   `koanf:"partition"`
	Strategies []string `koanf:"strategies"`
}

var defaultRuns = []RunInfo{
	{NumNodes: 2, Latency: 0.1, Rate: 1e6},
	{NumNodes: 8, Latency: 1e-3, Rate: 1e6},
	{NumNodes: 16, Latency: 1e-3, Rate: 1e9},
	{NumNodes: 16, Latency: 1e-4, Rate: 1e9},
}

// LoadConfig reads the matrix from a YAML or JSON file,
// if path is non-empty, and then from HASHBENCH_
// environment variables.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch filepath.Ext(path) {
		case ".json":
			parser = json.Parser()
		case ".yaml", ".yml", "":
			parser = yaml.Parser()
		default:
			return nil, errors.Errorf("unknown config format: %s", path)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	// HASHBENCH_LOAD_FACTOR -> load-factor
	err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		name := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, envPrefix), "_", "-"))
		if name == "config" {
			return "", nil
		}
		if name == "strategies" {
			return name, strings.Split(value, ",")
		}
		return name, value
	}), nil)
	if err != nil {
		return nil, errors.Wrap(err, "read environment")
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	c.setDefaults()
	return &c, c.validate()
}

func (c *Config) setDefaults() {
	if len(c.Runs) == 0 {
		c.Runs = append([]RunInfo{}, defaultRuns...)
	}
	if c.KeysPerNode == 0 {
		c.KeysPerNode = 200
	}
	if c.LoadFactor == 0 {
		c.LoadFactor = 0.5
	}
	if c.KmerLength == 0 {
		c.KmerLength = 31
	}
	if len(c.Strategies) == 0 {
		c.Strategies = []string{hashtable.RMA.String(), hashtable.RPC.String()}
	}
}

func (c *Config) validate() error {
	for i, run := range c.Runs {
		if run.NumNodes <= 0 {
			return errors.Errorf("run %d: node count must be positive", i)
		}
		if run.Rate <= 0 || run.Latency < 0 {
			return errors.Errorf("run %d: invalid network parameters", i)
		}
	}
	if c.KeysPerNode < 0 {
		return errors.New("keys per node must not be negative")
	}
	if c.LoadFactor <= 0 || c.LoadFactor > 1 {
		return errors.Errorf("load factor must be in (0, 1], got %f", c.LoadFactor)
	}
	if c.KmerLength <= 0 || c.KmerLength > kmer.MaxLen {
		return errors.Errorf("k-mer length must be in [1, %d]", kmer.MaxLen)
	}
	if _, err := c.PartitionPolicy(); err != nil {
		return err
	}
	_, err := c.StrategyList()
	return err
}

// PartitionPolicy parses the partition policy.
func (c *Config) PartitionPolicy() (partition.Policy, error) {
	return partition.ParsePolicy(c.Partition)
}

// StrategyList parses the strategies to compare.
func (c *Config) StrategyList() ([]hashtable.Strategy, error) {
	var res []hashtable.Strategy
	for _, name := range c.Strategies {
		s, err := hashtable.ParseStrategy(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

// Capacity gets the table size for a run.
func (c *Config) Capacity(r RunInfo) uint64 {
	return uint64(float64(c.KeysPerNode*r.NumNodes)/c.LoadFactor) + 1
}
