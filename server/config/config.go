package config

import (
	"os"
	"time"

	"github.com/gear6io/stratum/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendFilesystem = "filesystem"
	BackendMemory     = "memory"
	BackendMinio      = "minio"
)

// Pointer store (catalog) types
const (
	CatalogStorage   = "storage"
	CatalogSQLite    = "sqlite"
	CatalogZooKeeper = "zookeeper"
)

// Config is the engine configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Commit   CommitConfig   `yaml:"commit"`
	Manifest ManifestConfig `yaml:"manifest"`
	Scan     ScanConfig     `yaml:"scan"`
	Data     DataConfig     `yaml:"data"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`      // "json" or "console"
	FilePath   string `yaml:"file_path"`   // Path to log file
	Console    bool   `yaml:"console"`     // Whether to log to console
	MaxSize    int    `yaml:"max_size"`    // Max file size in MB
	MaxBackups int    `yaml:"max_backups"` // Max number of backup files
	Cleanup    bool   `yaml:"cleanup"`     // Truncate the log file on startup
}

// StorageConfig selects where metadata, manifests and data files live
type StorageConfig struct {
	Backend   string      `yaml:"backend"`
	Warehouse string      `yaml:"warehouse"`
	Minio     MinioConfig `yaml:"minio"`
}

// MinioConfig holds the object store connection settings
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// CatalogConfig selects the store holding each table's metadata pointer.
// "storage" keeps the pointer next to the table in the configured backend.
type CatalogConfig struct {
	Type       string          `yaml:"type"`
	SQLitePath string          `yaml:"sqlite_path"`
	ZooKeeper  ZooKeeperConfig `yaml:"zookeeper"`
}

type ZooKeeperConfig struct {
	Servers        []string      `yaml:"servers,omitempty"`
	Root           string        `yaml:"root"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// CommitConfig bounds the optimistic commit retry loop
type CommitConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// ManifestConfig controls small-manifest merging on commit
type ManifestConfig struct {
	MergeEnabled    bool  `yaml:"merge_enabled"`
	TargetSizeBytes int64 `yaml:"target_size_bytes"`
	MinCountToMerge int   `yaml:"min_count_to_merge"`
}

// DataConfig controls the data files written by the CLI and the
// partitioned writer
type DataConfig struct {
	Compression string `yaml:"compression"`
	BatchRows   int    `yaml:"batch_rows"`
}

// ScanConfig controls scan planning
type ScanConfig struct {
	Workers int `yaml:"workers"`
}

// LoadDefaultConfig returns a default configuration
func LoadDefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			Console:    true,
			MaxSize:    100,
			MaxBackups: 3,
		},
		Storage: StorageConfig{
			Backend:   BackendFilesystem,
			Warehouse: "./warehouse",
		},
		Catalog: CatalogConfig{
			Type: CatalogStorage,
			ZooKeeper: ZooKeeperConfig{
				Root:           "/stratum",
				SessionTimeout: 10 * time.Second,
			},
		},
		Commit: DefaultCommitConfig(),
		Manifest: ManifestConfig{
			MergeEnabled:    false,
			TargetSizeBytes: 8 * 1024 * 1024,
			MinCountToMerge: 100,
		},
		Scan: ScanConfig{Workers: 4},
		Data: DataConfig{
			Compression: "snappy",
			BatchRows:   4096,
		},
	}
}

// DefaultCommitConfig returns the commit retry defaults
func DefaultCommitConfig() CommitConfig {
	return CommitConfig{
		MaxAttempts:   4,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
	}
}

// LoadConfig loads configuration from a YAML file on top of the defaults
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.New(ErrConfigFileReadFailed, "failed to read config file", err).AddContext("path", filename)
	}

	cfg := LoadDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.New(ErrConfigFileParseFailed, "failed to parse config file", err).AddContext("path", filename)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.New(ErrConfigValidationFailed, "configuration validation failed", err)
	}
	return cfg, nil
}

// SaveConfig saves configuration to a file
func SaveConfig(cfg *Config, filename string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.New(ErrConfigFileMarshalFailed, "failed to marshal config", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.New(ErrConfigFileWriteFailed, "failed to write config file", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Catalog.Validate(); err != nil {
		return err
	}
	if err := c.Commit.Validate(); err != nil {
		return err
	}
	if err := c.Manifest.Validate(); err != nil {
		return err
	}
	if c.Data.BatchRows < 0 {
		return errors.New(ErrInvalidDataSettings, "data batch_rows must not be negative", nil)
	}
	return nil
}

func (s *StorageConfig) Validate() error {
	switch s.Backend {
	case BackendFilesystem, BackendMemory:
	case BackendMinio:
		if s.Minio.Endpoint == "" || s.Minio.Bucket == "" {
			return errors.New(ErrMinioSettingsRequired, "minio backend requires endpoint and bucket", nil)
		}
	default:
		return errors.Newf(ErrUnknownStorageBackend, "unknown storage backend %q", s.Backend)
	}
	if s.Warehouse == "" && s.Backend != BackendMemory {
		return errors.New(ErrWarehouseRequired, "warehouse is required in storage configuration", nil)
	}
	return nil
}

func (c *CatalogConfig) Validate() error {
	switch c.Type {
	case CatalogStorage:
	case CatalogSQLite:
		if c.SQLitePath == "" {
			return errors.New(ErrCatalogSettingsRequired, "sqlite catalog requires sqlite_path", nil)
		}
	case CatalogZooKeeper:
		if len(c.ZooKeeper.Servers) == 0 {
			return errors.New(ErrCatalogSettingsRequired, "zookeeper catalog requires servers", nil)
		}
	default:
		return errors.Newf(ErrUnknownCatalogType, "unknown catalog type %q", c.Type)
	}
	return nil
}

func (c *CommitConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.New(ErrInvalidCommitSettings, "commit max_attempts must be at least 1", nil)
	}
	if c.BaseDelay < 0 || c.MaxDelay < c.BaseDelay {
		return errors.New(ErrInvalidCommitSettings, "commit delays must satisfy 0 <= base_delay <= max_delay", nil)
	}
	if c.BackoffFactor < 1 {
		return errors.New(ErrInvalidCommitSettings, "commit backoff_factor must be >= 1", nil)
	}
	return nil
}

func (m *ManifestConfig) Validate() error {
	if m.MergeEnabled && (m.TargetSizeBytes <= 0 || m.MinCountToMerge < 2) {
		return errors.New(ErrInvalidManifestSettings, "manifest merging needs target_size_bytes > 0 and min_count_to_merge >= 2", nil)
	}
	return nil
}

// GetStoragePath returns the warehouse root
func (c *Config) GetStoragePath() string {
	return c.Storage.Warehouse
}

// GetCatalogType returns the pointer store type
func (c *Config) GetCatalogType() string {
	return c.Catalog.Type
}
