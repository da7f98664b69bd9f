// Package config loads the kvs.yml settings shared by the command line
// tools and maps them onto the engine configurations.
package config

import (
	"os"
	"strconv"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"

	"github.com/intellect4all/kvs/kvstore"
	"github.com/intellect4all/kvs/levelkv"
)

// FileName is looked up in the data directory when no file is given.
const FileName = "kvs.yml"

type Config struct {
	RootDirectory string
	Engine        string // "kvs", "leveldb" or empty to detect
	LogLevel      zapcore.Level

	SegmentSize        int64
	CompactionMinStale int64
	CompactionRatio    float64
	ReaderCacheSize    int
	SyncOnWrite        bool

	BlockCacheSize int // leveldb only
}

func Default() Config {
	kv := kvstore.DefaultConfig(".")
	return Config{
		RootDirectory:      ".",
		LogLevel:           zapcore.WarnLevel,
		SegmentSize:        kv.SegmentSize,
		CompactionMinStale: kv.CompactionMinStale,
		CompactionRatio:    kv.CompactionRatio,
		ReaderCacheSize:    kv.ReaderCacheSize,
		SyncOnWrite:        kv.SyncOnWrite,
	}
}

// Parse overlays the YAML in data onto c. Keys that are absent keep their
// current values.
func (c *Config) Parse(data []byte) error {
	var aux struct {
		RootDirectory      string `yaml:"root_directory"`
		Engine             string `yaml:"engine"`
		LogLevel           string `yaml:"log_level"`
		SegmentSize        string `yaml:"segment_size"`
		CompactionMinStale string `yaml:"compaction_min_stale"`
		CompactionRatio    string `yaml:"compaction_ratio"`
		ReaderCacheSize    int    `yaml:"reader_cache_size"`
		SyncOnWrite        string `yaml:"sync_on_write"`
		BlockCacheSize     string `yaml:"block_cache_size"`
	}

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	if aux.RootDirectory != "" {
		c.RootDirectory = aux.RootDirectory
	}

	if aux.Engine != "" {
		c.Engine = strings.ToLower(aux.Engine)
	}

	if aux.LogLevel != "" {
		if err := c.LogLevel.UnmarshalText([]byte(strings.ToLower(aux.LogLevel))); err != nil {
			return errors.Wrapf(err, "invalid log_level %q", aux.LogLevel)
		}
	}

	if aux.SegmentSize != "" {
		size, err := parseSize("segment_size", aux.SegmentSize)
		if err != nil {
			return err
		}
		if size <= 0 {
			return errors.New("segment_size must be positive")
		}
		c.SegmentSize = size
	}

	if aux.CompactionMinStale != "" {
		size, err := parseSize("compaction_min_stale", aux.CompactionMinStale)
		if err != nil {
			return err
		}
		c.CompactionMinStale = size
	}

	if aux.CompactionRatio != "" {
		ratio, err := strconv.ParseFloat(aux.CompactionRatio, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid compaction_ratio %q", aux.CompactionRatio)
		}
		if ratio > 1 {
			return errors.Errorf("compaction_ratio %v is above 1", ratio)
		}
		c.CompactionRatio = ratio
	}

	if aux.ReaderCacheSize < 0 {
		return errors.Errorf("invalid reader_cache_size %d", aux.ReaderCacheSize)
	}
	if aux.ReaderCacheSize > 0 {
		c.ReaderCacheSize = aux.ReaderCacheSize
	}

	if aux.SyncOnWrite != "" {
		sync, err := strconv.ParseBool(aux.SyncOnWrite)
		if err != nil {
			return errors.Wrapf(err, "invalid sync_on_write %q", aux.SyncOnWrite)
		}
		c.SyncOnWrite = sync
	}

	if aux.BlockCacheSize != "" {
		size, err := parseSize("block_cache_size", aux.BlockCacheSize)
		if err != nil {
			return err
		}
		c.BlockCacheSize = int(size)
	}

	return nil
}

// Load reads the config file at path on top of the defaults. A missing
// file is not an error when optional is set.
func Load(path string, optional bool) (Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && optional {
		return c, nil
	}
	if err != nil {
		return c, errors.Wrap(err, "read config")
	}

	if err := c.Parse(data); err != nil {
		return c, errors.Wrapf(err, "config %s", path)
	}
	return c, nil
}

func (c Config) KvStore(log *zap.Logger) kvstore.Config {
	return kvstore.Config{
		DataDir:            c.RootDirectory,
		SegmentSize:        c.SegmentSize,
		CompactionMinStale: c.CompactionMinStale,
		CompactionRatio:    c.CompactionRatio,
		ReaderCacheSize:    c.ReaderCacheSize,
		SyncOnWrite:        c.SyncOnWrite,
		Logger:             log,
	}
}

func (c Config) LevelDB(log *zap.Logger) levelkv.Config {
	return levelkv.Config{
		DataDir:        c.RootDirectory,
		SyncOnWrite:    c.SyncOnWrite,
		BlockCacheSize: c.BlockCacheSize,
		Logger:         log,
	}
}

func parseSize(field, value string) (int64, error) {
	if strings.TrimSpace(value) == "0" {
		return 0, nil
	}
	size, err := bytefmt.ToBytes(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", field, value)
	}
	return int64(size), nil
}
