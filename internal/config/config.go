package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/tracceaqua/tracceaqua/internal/blob"
	"github.com/tracceaqua/tracceaqua/internal/ledger"
)

const envPrefix = "TRACCEAQUA_"

// Config defines server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	DB        DBConfig        `yaml:"db" toml:"db"`
	Log       LogConfig       `yaml:"log" toml:"log"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Anchor    AnchorConfig    `yaml:"anchor" toml:"anchor"`
	Blob      BlobConfig      `yaml:"blob" toml:"blob"`
	Expiry    ExpiryConfig    `yaml:"expiry" toml:"expiry"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" toml:"host"`
	Port            int           `yaml:"port" toml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DBConfig selects the store. Path applies to sqlite, DSN to postgres.
type DBConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	// File, when set, receives logs instead of stdout/stderr and is kept
	// under a few megabytes.
	File string `yaml:"file" toml:"file"`
}

// AuthConfig controls bearer API key authentication. With auth disabled
// every request acts as LocalActor with the ADMIN role.
type AuthConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	LocalActor string `yaml:"local_actor" toml:"local_actor"`
}

// TransportConfig selects how the MCP surface is served: "http" mounts it
// next to the REST API, "stdio" runs it over stdin/stdout.
type TransportConfig struct {
	Mode string `yaml:"mode" toml:"mode"`
}

type AnchorConfig struct {
	Enabled      bool                 `yaml:"enabled" toml:"enabled"`
	Ledger       string               `yaml:"ledger" toml:"ledger"`
	PollInterval time.Duration        `yaml:"poll_interval" toml:"poll_interval"`
	BatchSize    int                  `yaml:"batch_size" toml:"batch_size"`
	Concurrency  int                  `yaml:"concurrency" toml:"concurrency"`
	MaxAttempts  int                  `yaml:"max_attempts" toml:"max_attempts"`
	BaseBackoff  time.Duration        `yaml:"base_backoff" toml:"base_backoff"`
	MaxBackoff   time.Duration        `yaml:"max_backoff" toml:"max_backoff"`
	Lease        time.Duration        `yaml:"lease" toml:"lease"`
	Gateway      ledger.GatewayConfig `yaml:"gateway" toml:"gateway"`
}

type BlobConfig struct {
	Driver        blob.Driver   `yaml:"driver" toml:"driver"`
	FSRoot        string        `yaml:"fs_root" toml:"fs_root"`
	S3            blob.S3Config `yaml:"s3" toml:"s3"`
	PublicBaseURL string        `yaml:"public_base_url" toml:"public_base_url"`
	MaxSize       int64         `yaml:"max_size" toml:"max_size"`
	PresignExpiry time.Duration `yaml:"presign_expiry" toml:"presign_expiry"`
}

// Store returns the driver settings for blob.Open.
func (b BlobConfig) Store() blob.Config {
	return blob.Config{Driver: b.Driver, FSRoot: b.FSRoot, S3: b.S3}
}

type ExpiryConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled"`
	MaxAge        time.Duration `yaml:"max_age" toml:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval" toml:"sweep_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		DB: DBConfig{
			Driver: "sqlite",
			Path:   "data/tracceaqua.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			Enabled:    true,
			LocalActor: "local-admin",
		},
		Transport: TransportConfig{
			Mode: "http",
		},
		Anchor: AnchorConfig{
			Enabled:      true,
			Ledger:       "memory",
			PollInterval: 5 * time.Second,
			BatchSize:    20,
			Concurrency:  4,
			MaxAttempts:  8,
			BaseBackoff:  2 * time.Second,
			MaxBackoff:   10 * time.Minute,
			Lease:        time.Minute,
		},
		Blob: BlobConfig{
			Driver:        blob.DriverFilesystem,
			FSRoot:        "data/blobs",
			MaxSize:       25 << 20,
			PresignExpiry: 15 * time.Minute,
		},
		Expiry: ExpiryConfig{
			Enabled:       false,
			MaxAge:        90 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
	}
}

// Load builds the configuration from defaults, the optional file named by
// TRACCEAQUA_CONFIG_PATH and TRACCEAQUA_* environment variables, in that
// order.
func Load() (Config, error) {
	return LoadWith(os.Getenv(envPrefix+"CONFIG_PATH"), os.LookupEnv)
}

// LoadWith is Load with an explicit file path and environment lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
	}
	return nil
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			return fmt.Errorf("db.path is required for the sqlite driver")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	switch c.Transport.Mode {
	case "http", "stdio":
	default:
		return fmt.Errorf("unknown transport.mode %q", c.Transport.Mode)
	}
	switch c.Anchor.Ledger {
	case "memory", "disabled":
	case "gateway":
		if c.Anchor.Gateway.URL == "" {
			return fmt.Errorf("anchor.gateway.url is required for the gateway ledger")
		}
	default:
		return fmt.Errorf("unknown anchor.ledger %q", c.Anchor.Ledger)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Expiry.Enabled && c.Expiry.MaxAge <= 0 {
		return fmt.Errorf("expiry.max_age must be positive")
	}
	return nil
}

type envBinding struct {
	name  string
	apply func(string) error
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	bindings := []envBinding{
		{"SERVER_HOST", setString(&cfg.Server.Host)},
		{"SERVER_PORT", setInt(&cfg.Server.Port)},
		{"SERVER_SHUTDOWN_TIMEOUT", setDuration(&cfg.Server.ShutdownTimeout)},
		{"DB_DRIVER", setString(&cfg.DB.Driver)},
		{"DB_PATH", setString(&cfg.DB.Path)},
		{"DB_DSN", setString(&cfg.DB.DSN)},
		{"LOG_LEVEL", setString(&cfg.Log.Level)},
		{"LOG_FILE", setString(&cfg.Log.File)},
		{"AUTH_ENABLED", setBool(&cfg.Auth.Enabled)},
		{"AUTH_LOCAL_ACTOR", setString(&cfg.Auth.LocalActor)},
		{"TRANSPORT_MODE", setString(&cfg.Transport.Mode)},
		{"ANCHOR_ENABLED", setBool(&cfg.Anchor.Enabled)},
		{"ANCHOR_LEDGER", setString(&cfg.Anchor.Ledger)},
		{"ANCHOR_POLL_INTERVAL", setDuration(&cfg.Anchor.PollInterval)},
		{"ANCHOR_BATCH_SIZE", setInt(&cfg.Anchor.BatchSize)},
		{"ANCHOR_CONCURRENCY", setInt(&cfg.Anchor.Concurrency)},
		{"ANCHOR_MAX_ATTEMPTS", setInt(&cfg.Anchor.MaxAttempts)},
		{"ANCHOR_BASE_BACKOFF", setDuration(&cfg.Anchor.BaseBackoff)},
		{"ANCHOR_MAX_BACKOFF", setDuration(&cfg.Anchor.MaxBackoff)},
		{"ANCHOR_GATEWAY_URL", setString(&cfg.Anchor.Gateway.URL)},
		{"ANCHOR_GATEWAY_CHANNEL", setString(&cfg.Anchor.Gateway.Channel)},
		{"ANCHOR_GATEWAY_CHAINCODE", setString(&cfg.Anchor.Gateway.Chaincode)},
		{"ANCHOR_GATEWAY_TOKEN", setString(&cfg.Anchor.Gateway.Token)},
		{"ANCHOR_GATEWAY_TIMEOUT", setDuration(&cfg.Anchor.Gateway.Timeout)},
		{"BLOB_DRIVER", func(v string) error { cfg.Blob.Driver = blob.Driver(v); return nil }},
		{"BLOB_FS_ROOT", setString(&cfg.Blob.FSRoot)},
		{"BLOB_S3_BUCKET", setString(&cfg.Blob.S3.Bucket)},
		{"BLOB_S3_REGION", setString(&cfg.Blob.S3.Region)},
		{"BLOB_S3_ENDPOINT", setString(&cfg.Blob.S3.Endpoint)},
		{"BLOB_S3_ACCESS_KEY_ID", setString(&cfg.Blob.S3.AccessKeyID)},
		{"BLOB_S3_SECRET_ACCESS_KEY", setString(&cfg.Blob.S3.SecretAccessKey)},
		{"BLOB_S3_PATH_STYLE", setBool(&cfg.Blob.S3.PathStyle)},
		{"BLOB_PUBLIC_BASE_URL", setString(&cfg.Blob.PublicBaseURL)},
		{"BLOB_MAX_SIZE", setInt64(&cfg.Blob.MaxSize)},
		{"BLOB_PRESIGN_EXPIRY", setDuration(&cfg.Blob.PresignExpiry)},
		{"EXPIRY_ENABLED", setBool(&cfg.Expiry.Enabled)},
		{"EXPIRY_MAX_AGE", setDuration(&cfg.Expiry.MaxAge)},
		{"EXPIRY_SWEEP_INTERVAL", setDuration(&cfg.Expiry.SweepInterval)},
	}
	for _, b := range bindings {
		v, ok := lookup(envPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(v); err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, b.name, err)
		}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setInt64(dst *int64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}
