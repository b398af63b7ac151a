package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Storage  StorageConfig  `toml:"storage"`
	Sources  SourcesConfig  `toml:"sources"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PipelineConfig controls scheduling, timeouts and the session log.
type PipelineConfig struct {
	Concurrency      int      `toml:"concurrency"`
	MaxConcurrency   int      `toml:"max_concurrency"`
	TickInterval     Duration `toml:"tick_interval"`
	FetchTimeout     Duration `toml:"fetch_timeout"`
	ClaimTimeout     Duration `toml:"claim_timeout"`
	TranscodeTimeout Duration `toml:"transcode_timeout"`
	LogSize          int      `toml:"log_size"`
	ProbeWorkers     int      `toml:"probe_workers"`
	ProbeRate        float64  `toml:"probe_rate"`
}

// StorageConfig describes where downloaded assets are kept.
type StorageConfig struct {
	Dir               string `toml:"dir"`
	MaxBytesPerSecond int    `toml:"max_bytes_per_second"`
}

// SourcesConfig contains per-source settings.
type SourcesConfig struct {
	Remote  RemoteConfig  `toml:"remote"`
	Archive ArchiveConfig `toml:"archive"`
}

// RemoteConfig configures the remote video library API.
type RemoteConfig struct {
	BaseURL      string   `toml:"base_url"`
	DownloadURL  string   `toml:"download_url"`
	LibraryID    string   `toml:"library_id"`
	APIKey       string   `toml:"api_key"`
	RateLimit    float64  `toml:"rate_limit"`
	Timeout      Duration `toml:"timeout"`
	TokenURL     string   `toml:"token_url"`
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
}

// ArchiveConfig configures the archive source. Root may be any rclone path.
type ArchiveConfig struct {
	Root string `toml:"root"`
}

// Duration is a [time.Duration] that decodes from strings like "2s" or "10m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: bad duration %q", ErrInvalidConfig, string(text))
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnv reads key=value pairs from the given .env files into the process environment.
//
// Missing files are ignored. Variables already set are not overwritten.
func LoadEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// ApplyEnv overrides secrets and paths from VIDPORT_* environment variables.
func (c *Config) ApplyEnv() {
	strs := map[string]*string{
		"VIDPORT_DATABASE_PATH":        &c.Database.Path,
		"VIDPORT_STORAGE_DIR":          &c.Storage.Dir,
		"VIDPORT_REMOTE_BASE_URL":      &c.Sources.Remote.BaseURL,
		"VIDPORT_REMOTE_DOWNLOAD_URL":  &c.Sources.Remote.DownloadURL,
		"VIDPORT_REMOTE_LIBRARY_ID":    &c.Sources.Remote.LibraryID,
		"VIDPORT_REMOTE_API_KEY":       &c.Sources.Remote.APIKey,
		"VIDPORT_REMOTE_CLIENT_ID":     &c.Sources.Remote.ClientID,
		"VIDPORT_REMOTE_CLIENT_SECRET": &c.Sources.Remote.ClientSecret,
		"VIDPORT_ARCHIVE_ROOT":         &c.Sources.Archive.Root,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("VIDPORT_CONCURRENCY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.Concurrency = n
		}
	}
}

// Validate checks ranges the pipeline depends on.
func (c *Config) Validate() error {
	p := c.Pipeline
	switch {
	case c.Database.Path == "":
		return fmt.Errorf("%w: database.path is empty", ErrInvalidConfig)
	case p.MaxConcurrency < 1:
		return fmt.Errorf("%w: pipeline.max_concurrency must be at least 1", ErrInvalidConfig)
	case p.Concurrency < 1 || p.Concurrency > p.MaxConcurrency:
		return fmt.Errorf("%w: pipeline.concurrency must be between 1 and %d", ErrInvalidConfig, p.MaxConcurrency)
	case p.TickInterval.Duration <= 0:
		return fmt.Errorf("%w: pipeline.tick_interval must be positive", ErrInvalidConfig)
	case p.FetchTimeout.Duration <= 0:
		return fmt.Errorf("%w: pipeline.fetch_timeout must be positive", ErrInvalidConfig)
	case p.ClaimTimeout.Duration < p.FetchTimeout.Duration:
		return fmt.Errorf("%w: pipeline.claim_timeout must not be shorter than fetch_timeout", ErrInvalidConfig)
	case p.LogSize < 1:
		return fmt.Errorf("%w: pipeline.log_size must be at least 1", ErrInvalidConfig)
	case c.Storage.Dir == "":
		return fmt.Errorf("%w: storage.dir is empty", ErrInvalidConfig)
	case c.Storage.MaxBytesPerSecond < 0:
		return fmt.Errorf("%w: storage.max_bytes_per_second must not be negative", ErrInvalidConfig)
	}
	return nil
}
