// Package config provides configuration management for relayarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 60 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultSegmentsBeforeRelay = 3
	defaultGapSkipTimeout      = 10 * time.Second
	defaultStallTimeout        = 60 * time.Second
	defaultWatcherInterval     = time.Second
	defaultUploadWindow        = 60 * time.Second
	defaultMaxEvents           = 20
	defaultTerminateTimeout    = 5 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Uploader  UploaderConfig  `mapstructure:"uploader"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration. The listen port is also the
// port baked into the loopback playlist URL handed to uploader children.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig holds the Basic-auth credentials required on the ingest endpoint.
type AuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// StorageConfig holds segment storage configuration.
type StorageConfig struct {
	// BaseDir is the root under which per-session directories are created.
	BaseDir string `mapstructure:"base_dir"`
	// MaxSegmentSize caps upload request bodies.
	// Supports human-readable values like "64MB" or raw byte counts.
	MaxSegmentSize ByteSize `mapstructure:"max_segment_size"`
}

// RelayConfig holds the per-stream state machine tunables.
type RelayConfig struct {
	// SegmentsBeforeRelay is how many media segments must be written before
	// the uploader child is started.
	SegmentsBeforeRelay int `mapstructure:"segments_before_relay"`
	// GapSkipTimeout is how long the playlist writer waits on a missing
	// sequence before skipping ahead with a discontinuity.
	GapSkipTimeout time.Duration `mapstructure:"gap_skip_timeout"`
	// StallTimeout finalizes a session when neither uploads nor playlist
	// advances have happened within it.
	StallTimeout    time.Duration `mapstructure:"stall_timeout"`
	WatcherInterval time.Duration `mapstructure:"watcher_interval"`
	// UploadWindow is the sliding window for upload utilization reporting.
	UploadWindow time.Duration `mapstructure:"upload_window"`
	// MaxEvents bounds the per-session event history.
	MaxEvents int `mapstructure:"max_events"`
}

// UploaderConfig holds uploader child-process configuration.
type UploaderConfig struct {
	FFmpegPath       string        `mapstructure:"ffmpeg_path"`
	TerminateTimeout time.Duration `mapstructure:"terminate_timeout"`
	// LogFile mirrors the child's merged output to <session dir>/uploader.log.
	LogFile bool `mapstructure:"log_file"`
	// OnTargetChange selects what happens when an admit presents a different
	// target while an uploader is already running: "ignore" or "restart".
	OnTargetChange string `mapstructure:"on_target_change"`
}

// DatabaseConfig holds session journal database configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// RetentionConfig holds the ended-session directory janitor configuration.
// Live sessions are never touched; the janitor is off by default.
type RetentionConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MaxAge is how old an ended session directory must be before removal.
	// Supports extended units like "7d" and "2w".
	MaxAge Duration `mapstructure:"max_age"`
	// Schedule is a 5-field cron expression.
	Schedule string `mapstructure:"schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with RELAYARR_ and use underscores for
// nesting. Example: RELAYARR_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/relayarr")
		v.AddConfigPath("$HOME/.relayarr")
	}

	v.SetEnvPrefix("RELAYARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates a configuration from an already
// initialized Viper instance. The CLI uses this with the global Viper so
// bound flags keep their precedence over env and file values.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in defaults without validation. Credentials are
// intentionally empty: they have no defaults and must be supplied before
// serving.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("decoding default config: %v", err))
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	// The text-unmarshaller hook decodes ByteSize and Duration wrapper types
	// from strings like "64MB" and "7d".
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Auth defaults: none. Credentials must be provided explicitly.
	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password", "")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./segments")
	v.SetDefault("storage.max_segment_size", "64MB")

	// Relay defaults
	v.SetDefault("relay.segments_before_relay", defaultSegmentsBeforeRelay)
	v.SetDefault("relay.gap_skip_timeout", defaultGapSkipTimeout)
	v.SetDefault("relay.stall_timeout", defaultStallTimeout)
	v.SetDefault("relay.watcher_interval", defaultWatcherInterval)
	v.SetDefault("relay.upload_window", defaultUploadWindow)
	v.SetDefault("relay.max_events", defaultMaxEvents)

	// Uploader defaults
	v.SetDefault("uploader.ffmpeg_path", "ffmpeg")
	v.SetDefault("uploader.terminate_timeout", defaultTerminateTimeout)
	v.SetDefault("uploader.log_file", false)
	v.SetDefault("uploader.on_target_change", "ignore")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "relayarr.db")
	v.SetDefault("database.log_level", "warn")

	// Retention defaults
	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.max_age", "7d")
	v.SetDefault("retention.schedule", "0 * * * *")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Auth.Username == "" {
		return fmt.Errorf("auth.username is required")
	}
	if c.Auth.Password == "" {
		return fmt.Errorf("auth.password is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.MaxSegmentSize < 1 {
		return fmt.Errorf("storage.max_segment_size must be positive")
	}

	if c.Relay.SegmentsBeforeRelay < 1 {
		return fmt.Errorf("relay.segments_before_relay must be at least 1")
	}
	if c.Relay.GapSkipTimeout <= 0 {
		return fmt.Errorf("relay.gap_skip_timeout must be positive")
	}
	if c.Relay.StallTimeout <= 0 {
		return fmt.Errorf("relay.stall_timeout must be positive")
	}
	if c.Relay.WatcherInterval <= 0 {
		return fmt.Errorf("relay.watcher_interval must be positive")
	}
	if c.Relay.MaxEvents < 1 {
		return fmt.Errorf("relay.max_events must be at least 1")
	}

	if c.Uploader.FFmpegPath == "" {
		return fmt.Errorf("uploader.ffmpeg_path is required")
	}
	if c.Uploader.OnTargetChange != "ignore" && c.Uploader.OnTargetChange != "restart" {
		return fmt.Errorf("uploader.on_target_change must be one of: ignore, restart")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Retention.Enabled {
		if c.Retention.MaxAge <= 0 {
			return fmt.Errorf("retention.max_age must be positive")
		}
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(c.Retention.Schedule); err != nil {
			return fmt.Errorf("retention.schedule is not a valid cron expression: %w", err)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoopbackBaseURL returns the loopback URL prefix uploader children use to
// read playlists and segments back from this process.
func (c *ServerConfig) LoopbackBaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", c.Port)
}
