package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"` // days
	MaxBackups int    `mapstructure:"max_backups"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Console    string            `mapstructure:"console"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// IndexConfig configures the on-disk metadata index.
type IndexConfig struct {
	Path string `mapstructure:"path"`
	Root string `mapstructure:"root"`
}

// DuplicatesConfig configures duplicate detection.
type DuplicatesConfig struct {
	Verify  bool `mapstructure:"verify"`
	Workers int  `mapstructure:"workers"`
}

// Config is the application configuration.
type Config struct {
	BatchSize      int              `mapstructure:"batch_size"`
	LargeThreshold string           `mapstructure:"large_threshold"`
	DuplicateFloor string           `mapstructure:"duplicate_floor"`
	Pacing         time.Duration    `mapstructure:"pacing"`
	MaxDepth       int              `mapstructure:"max_depth"`
	CacheDirs      []string         `mapstructure:"cache_dirs"`
	DownloadsDir   string           `mapstructure:"downloads_dir"`
	Index          IndexConfig      `mapstructure:"index"`
	Duplicates     DuplicatesConfig `mapstructure:"duplicates"`
	Logging        LoggingConfig    `mapstructure:"logging"`
}

// New returns a viper instance with sift's defaults, search paths and
// environment binding. A non-empty file replaces the search paths.
// Environment variables are prefixed with SIFT_ (e.g. SIFT_BATCH_SIZE).
func New(file string) *viper.Viper {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "sift"))
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "sift"))
		}
	}

	v.SetEnvPrefix("SIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("large_threshold", DefaultLargeThreshold)
	v.SetDefault("duplicate_floor", DefaultDuplicateFloor)
	v.SetDefault("pacing", DefaultPacing)
	v.SetDefault("max_depth", DefaultMaxDepth)
	v.SetDefault("cache_dirs", []string{})
	v.SetDefault("downloads_dir", DefaultDownloadsDir)
	v.SetDefault("index.path", DefaultIndexPath())
	v.SetDefault("index.root", DefaultIndexRoot)
	v.SetDefault("duplicates.verify", false)
	v.SetDefault("duplicates.workers", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.console", "")
	v.SetDefault("logging.rotation.max_size", "10MiB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.components", map[string]string{
		"scanner": "info",
		"index":   "info",
		"watcher": "warn",
	})

	return v
}

// Read reads the config file, if any, and decodes v. A missing file is not
// an error; defaults apply. Leading ~ in paths is expanded.
func Read(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var err error
	if cfg.DownloadsDir, err = ExpandPath(cfg.DownloadsDir); err != nil {
		return nil, err
	}
	if cfg.Index.Path, err = ExpandPath(cfg.Index.Path); err != nil {
		return nil, err
	}
	if cfg.Index.Root, err = ExpandPath(cfg.Index.Root); err != nil {
		return nil, err
	}
	for i, dir := range cfg.CacheDirs {
		if cfg.CacheDirs[i], err = ExpandPath(dir); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the configuration from the default locations.
func Load() (*Config, error) {
	return Read(New(""))
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks value ranges and size strings.
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.Pacing < 0 {
		return fmt.Errorf("%w: pacing must not be negative, got %s", ErrInvalidConfig, c.Pacing)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("%w: max_depth must be positive, got %d", ErrInvalidConfig, c.MaxDepth)
	}
	if _, err := c.LargeThresholdBytes(); err != nil {
		return fmt.Errorf("%w: large_threshold: %w", ErrInvalidConfig, err)
	}
	if _, err := c.DuplicateFloorBytes(); err != nil {
		return fmt.Errorf("%w: duplicate_floor: %w", ErrInvalidConfig, err)
	}
	return nil
}

// LargeThresholdBytes parses LargeThreshold.
func (c *Config) LargeThresholdBytes() (int64, error) {
	return types.ParseSize(c.LargeThreshold)
}

// DuplicateFloorBytes parses DuplicateFloor.
func (c *Config) DuplicateFloorBytes() (int64, error) {
	return types.ParseSize(c.DuplicateFloor)
}

// LoggingOptions converts the logging section to logging.Config.
func (c *Config) LoggingOptions() logging.Config {
	out := logging.DefaultConfig()
	out.Level = c.Logging.Level
	out.ConsoleLevel = c.Logging.Console
	out.Components = c.Logging.Components
	if c.Logging.Path != "" {
		if p, err := ExpandPath(c.Logging.Path); err == nil {
			out.Path = p
		}
	}
	if size, err := types.ParseSize(c.Logging.Rotation.MaxSize); err == nil && size > 0 {
		out.Rotation.MaxSize = size
	}
	out.Rotation.MaxBackups = c.Logging.Rotation.MaxBackups
	out.Rotation.MaxAge = time.Duration(c.Logging.Rotation.MaxAge) * 24 * time.Hour
	return out
}

// Dir returns $XDG_CONFIG_HOME/sift.
func Dir() string {
	return filepath.Join(xdg.ConfigHome, "sift")
}

// DataDir returns $XDG_DATA_HOME/sift.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "sift")
}

// DefaultIndexPath returns the default badger directory of the index.
func DefaultIndexPath() string {
	return filepath.Join(DataDir(), "index")
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// WriteDefault writes a commented default config file to dir/config.yaml
// and returns its path. An existing file is left untouched.
func WriteDefault(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	content := fmt.Sprintf(`# sift configuration

# Records delivered per batch
batch_size: %d

# Files larger than this are reported as large
large_threshold: %s

# Files must be larger than this to be duplicate candidates
duplicate_floor: %s

# Pause between categories when reporting progress
pacing: %s

# Maximum directory depth when walking cache directories
max_depth: %d

# Directories walked for the cache category (empty means $XDG_CACHE_HOME)
cache_dirs: []

# Downloads folder exposed by the index
downloads_dir: %s

index:
  # Badger directory holding the metadata index
  path: %s
  # Tree indexed by "sift index build" when no root is given
  root: %s

duplicates:
  # Confirm name and size matches by hashing the ends of each file
  verify: false
  # Parallel digests (0 means one per CPU)
  workers: 0

logging:
  # debug, info, warn, error
  level: info
  # Empty means $XDG_STATE_HOME/sift/sift.log
  path: ""
  # Mirror records at this level and above to stderr (empty disables)
  console: ""
  rotation:
    max_size: 10MiB
    max_age: 30 # days
    max_backups: 5
  components:
    scanner: info
    index: info
    watcher: warn
`, DefaultBatchSize, DefaultLargeThreshold, DefaultDuplicateFloor, DefaultPacing,
		DefaultMaxDepth, DefaultDownloadsDir, DefaultIndexPath(), DefaultIndexRoot)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	return path, nil
}
