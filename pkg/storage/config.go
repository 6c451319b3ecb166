package storage

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/downfa11-org/raftlog/pkg/segment"
	"github.com/downfa11-org/raftlog/util"
)

// Config is the on-disk/flag-loadable form of Options. Level is a string here ("disk", "mapped-disk", "memory") so
// it round-trips through YAML without a custom unmarshaler.
type Config struct {
	Dir                     string        `yaml:"dir"`
	Level                   string        `yaml:"level"`
	MaxSegmentBytes         int           `yaml:"max_segment_bytes"`
	MaxEntriesPerSegment    int           `yaml:"max_entries_per_segment"`
	CompactionThreads       int           `yaml:"compaction_threads"`
	CompactionThreshold     float64       `yaml:"compaction_threshold"`
	MinorCompactionInterval time.Duration `yaml:"minor_compaction_interval"`
	MajorCompactionInterval time.Duration `yaml:"major_compaction_interval"`
	FDCacheSize             int           `yaml:"fd_cache_size"`
	LogLevel                string        `yaml:"log_level"`
	EnableExporter          bool          `yaml:"enable_exporter"`
	MetricsPort             int           `yaml:"metrics_port"`
}

// LoadConfig applies flag+YAML+env precedence: flags set defaults, a
// --config file overrides them, and flags explicitly passed on the
// command line override the file.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	configPath := flag.String("config", "", "Path to YAML config file")
	dirStr := flag.String("dir", "data", "Storage directory")
	levelStr := flag.String("level", "disk", "Storage level (disk, mapped-disk, memory)")
	maxSegmentBytesStr := flag.String("max-segment-bytes", "67108864", "Maximum bytes per segment (default 64MiB)")
	maxEntriesStr := flag.String("max-entries-per-segment", "65536", "Maximum entries per segment")
	compactionThreadsStr := flag.String("compaction-threads", "2", "Number of compaction worker goroutines")
	compactionThresholdStr := flag.String("compaction-threshold", "0.5", "Clean ratio that makes a segment eligible for compaction")
	minorIntervalStr := flag.String("minor-compaction-interval", "30s", "Minor compaction dispatch interval")
	majorIntervalStr := flag.String("major-compaction-interval", "10m", "Major compaction dispatch interval")
	fdCacheStr := flag.String("fd-cache-size", "128", "Sealed segment file descriptors kept open")
	logLevelStr := flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	exporterStr := flag.String("enable-exporter", "false", "Enable the Prometheus metrics exporter")
	metricsPortStr := flag.String("metrics-port", "9100", "Prometheus exporter port")

	if envPath := os.Getenv("RAFTLOG_CONFIG"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	flag.Parse()

	applyDefaults(cfg, dirStr, levelStr, maxSegmentBytesStr, maxEntriesStr, compactionThreadsStr,
		compactionThresholdStr, minorIntervalStr, majorIntervalStr, fdCacheStr, logLevelStr, exporterStr, metricsPortStr)

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, fmt.Errorf("storage: read config %s: %w", *configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("storage: parse config %s: %w", *configPath, err)
		}
	}

	applyExplicitFlags(cfg, dirStr, levelStr, maxSegmentBytesStr, maxEntriesStr, compactionThreadsStr,
		compactionThresholdStr, minorIntervalStr, majorIntervalStr, fdCacheStr, logLevelStr, exporterStr, metricsPortStr)

	cfg.Normalize()
	util.SetLevel(util.LevelFromString(cfg.LogLevel))
	return cfg, nil
}

func applyDefaults(cfg *Config, dirStr, levelStr, maxSegmentBytesStr, maxEntriesStr, compactionThreadsStr,
	compactionThresholdStr, minorIntervalStr, majorIntervalStr, fdCacheStr, logLevelStr, exporterStr, metricsPortStr *string) {
	cfg.Dir = *dirStr
	cfg.Level = *levelStr
	cfg.MaxSegmentBytes = util.ParseInt(*maxSegmentBytesStr, 64<<20)
	cfg.MaxEntriesPerSegment = util.ParseInt(*maxEntriesStr, 65536)
	cfg.CompactionThreads = util.ParseInt(*compactionThreadsStr, 2)
	if v, err := strconv.ParseFloat(*compactionThresholdStr, 64); err == nil {
		cfg.CompactionThreshold = v
	}
	if v, err := time.ParseDuration(*minorIntervalStr); err == nil {
		cfg.MinorCompactionInterval = v
	}
	if v, err := time.ParseDuration(*majorIntervalStr); err == nil {
		cfg.MajorCompactionInterval = v
	}
	cfg.FDCacheSize = util.ParseInt(*fdCacheStr, 128)
	cfg.LogLevel = *logLevelStr
	cfg.EnableExporter = util.ParseBool(*exporterStr, false)
	cfg.MetricsPort = util.ParseInt(*metricsPortStr, 9100)
}

func applyExplicitFlags(cfg *Config, dirStr, levelStr, maxSegmentBytesStr, maxEntriesStr, compactionThreadsStr,
	compactionThresholdStr, minorIntervalStr, majorIntervalStr, fdCacheStr, logLevelStr, exporterStr, metricsPortStr *string) {
	if *dirStr != "data" {
		cfg.Dir = *dirStr
	}
	if *levelStr != "disk" {
		cfg.Level = *levelStr
	}
	if *maxSegmentBytesStr != "67108864" {
		cfg.MaxSegmentBytes = util.ParseInt(*maxSegmentBytesStr, cfg.MaxSegmentBytes)
	}
	if *maxEntriesStr != "65536" {
		cfg.MaxEntriesPerSegment = util.ParseInt(*maxEntriesStr, cfg.MaxEntriesPerSegment)
	}
	if *compactionThreadsStr != "2" {
		cfg.CompactionThreads = util.ParseInt(*compactionThreadsStr, cfg.CompactionThreads)
	}
	if *compactionThresholdStr != "0.5" {
		if v, err := strconv.ParseFloat(*compactionThresholdStr, 64); err == nil {
			cfg.CompactionThreshold = v
		}
	}
	if *minorIntervalStr != "30s" {
		if v, err := time.ParseDuration(*minorIntervalStr); err == nil {
			cfg.MinorCompactionInterval = v
		}
	}
	if *majorIntervalStr != "10m" {
		if v, err := time.ParseDuration(*majorIntervalStr); err == nil {
			cfg.MajorCompactionInterval = v
		}
	}
	if *fdCacheStr != "128" {
		cfg.FDCacheSize = util.ParseInt(*fdCacheStr, cfg.FDCacheSize)
	}
	if *logLevelStr != "info" {
		cfg.LogLevel = *logLevelStr
	}
	if *exporterStr != "false" {
		cfg.EnableExporter = util.ParseBool(*exporterStr, cfg.EnableExporter)
	}
	if *metricsPortStr != "9100" {
		cfg.MetricsPort = util.ParseInt(*metricsPortStr, cfg.MetricsPort)
	}
}

// Normalize replaces zero-valued or out-of-range fields with safe
// defaults. FDCacheSize 0 is kept as is (it disables the sealed-segment
// fd cache); only a negative value is reset.
func (cfg *Config) Normalize() {
	if strings.TrimSpace(cfg.Dir) == "" {
		cfg.Dir = "data"
	}
	if strings.TrimSpace(cfg.Level) == "" {
		cfg.Level = "disk"
	}
	if cfg.MaxSegmentBytes < int(segment.DescriptorSize) {
		cfg.MaxSegmentBytes = 64 << 20
	}
	if cfg.MaxEntriesPerSegment <= 0 {
		cfg.MaxEntriesPerSegment = 65536
	}
	if cfg.CompactionThreads <= 0 {
		cfg.CompactionThreads = 2
	}
	if cfg.CompactionThreshold <= 0 || cfg.CompactionThreshold > 1 {
		cfg.CompactionThreshold = 0.5
	}
	if cfg.MinorCompactionInterval <= 0 {
		cfg.MinorCompactionInterval = 30 * time.Second
	}
	if cfg.MajorCompactionInterval <= 0 {
		cfg.MajorCompactionInterval = 10 * time.Minute
	}
	if cfg.FDCacheSize < 0 {
		cfg.FDCacheSize = 128
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MetricsPort <= 0 {
		cfg.MetricsPort = 9100
	}
}

// ToOptions validates and converts Config into the immutable Options the
// storage Engine is built from.
func (cfg *Config) ToOptions() (Options, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Dir:                     cfg.Dir,
		Level:                   level,
		MaxSegmentBytes:         uint32(cfg.MaxSegmentBytes),
		MaxEntriesPerSegment:    uint32(cfg.MaxEntriesPerSegment),
		CompactionThreads:       cfg.CompactionThreads,
		CompactionThreshold:     cfg.CompactionThreshold,
		MinorCompactionInterval: cfg.MinorCompactionInterval,
		MajorCompactionInterval: cfg.MajorCompactionInterval,
		FDCacheSize:             cfg.FDCacheSize,
	}, nil
}

func parseLevel(s string) (segment.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disk", "":
		return segment.LevelDisk, nil
	case "mapped-disk", "mapped_disk", "mmap":
		return segment.LevelMappedDisk, nil
	case "memory", "mem":
		return segment.LevelMemory, nil
	default:
		return 0, fmt.Errorf("storage: unknown level %q", s)
	}
}
