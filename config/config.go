package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Store backends.
const (
	BackendLevelDB = "leveldb"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// DefaultFile is the config file name looked up inside the data directory.
const DefaultFile = "chamber.toml"

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend   string `toml:"backend"`
	RedisURL  string `toml:"redis_url"`
	Namespace string `toml:"namespace"`
}

// NetworkConfig configures the peer transport.
type NetworkConfig struct {
	SignalingURL   string   `toml:"signaling_url"`
	ICEServers     []string `toml:"ice_servers"`
	TURNUsername   string   `toml:"turn_username"`
	TURNCredential string   `toml:"turn_credential"`
	ConnectTimeout Duration `toml:"connect_timeout"`
}

// SignalConfig configures the signaling server.
type SignalConfig struct {
	Listen string `toml:"listen"`
}

// Config is the complete configuration of the client and the signaling
// server.
type Config struct {
	DataDir string        `toml:"data_dir"`
	Log     LogConfig     `toml:"log"`
	Store   StoreConfig   `toml:"store"`
	Network NetworkConfig `toml:"network"`
	Signal  SignalConfig  `toml:"signal"`
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "chamber")
	}
	return ".chamber"
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Log:     LogConfig{Level: "info", Format: "text"},
		Store:   StoreConfig{Backend: BackendLevelDB, Namespace: "chamber"},
		Network: NetworkConfig{
			SignalingURL: "http://localhost:9000",
			ICEServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:global.stun.twilio.com:3478",
			},
			ConnectTimeout: Duration{5 * time.Second},
		},
		Signal: SignalConfig{Listen: ":9000"},
	}
}

// Load builds the configuration: defaults, then the TOML file at path (if
// path is empty, DefaultFile in the data directory when it exists), then
// .env files, then CHAMBER_* environment variables.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	cfg := Default()
	if dir := os.Getenv("CHAMBER_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.DataDir, DefaultFile)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"path":     path,
		"backend":  cfg.Store.Backend,
	}).Debug("Configuration loaded")
	return cfg, nil
}

// LoadDotEnv loads variables from .env files into the environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("CHAMBER_DATA_DIR", c.DataDir)
	c.Log.Level = getEnv("CHAMBER_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("CHAMBER_LOG_FORMAT", c.Log.Format)
	c.Store.Backend = getEnv("CHAMBER_STORE_BACKEND", c.Store.Backend)
	c.Store.RedisURL = getEnv("CHAMBER_REDIS_URL", c.Store.RedisURL)
	c.Store.Namespace = getEnv("CHAMBER_STORE_NAMESPACE", c.Store.Namespace)
	c.Network.SignalingURL = getEnv("CHAMBER_SIGNALING_URL", c.Network.SignalingURL)
	c.Network.TURNUsername = getEnv("CHAMBER_TURN_USERNAME", c.Network.TURNUsername)
	c.Network.TURNCredential = getEnv("CHAMBER_TURN_CREDENTIAL", c.Network.TURNCredential)
	c.Signal.Listen = getEnv("CHAMBER_SIGNAL_LISTEN", c.Signal.Listen)

	if v := getEnv("CHAMBER_ICE_SERVERS", ""); v != "" {
		var servers []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				servers = append(servers, s)
			}
		}
		c.Network.ICEServers = servers
	}
	if v := getEnv("CHAMBER_CONNECT_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Network.ConnectTimeout = Duration{d}
		} else {
			logrus.WithFields(logrus.Fields{
				"function": "applyEnv",
				"value":    v,
			}).Warn("Ignoring malformed CHAMBER_CONNECT_TIMEOUT")
		}
	}
}

// Validate checks the configuration for values no component can use.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendLevelDB, BackendMemory:
	case BackendRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("%w: redis backend needs store.redis_url", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}
	if c.Store.Backend == BackendLevelDB && c.DataDir == "" {
		return fmt.Errorf("%w: leveldb backend needs data_dir", ErrInvalidConfig)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("%w: log format must be text or json, got %q", ErrInvalidConfig, c.Log.Format)
	}
	if c.Network.ConnectTimeout.Duration <= 0 {
		return fmt.Errorf("%w: network.connect_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// StorePath is where the leveldb backend keeps its files.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "store")
}

// ApplyLogging configures the standard logrus logger.
func (c *Config) ApplyLogging() {
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		logrus.SetLevel(level)
	}
	if c.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Save writes the configuration to path as TOML.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}
