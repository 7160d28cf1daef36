package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/esnunes/helmforge/internal/paths"
)

const envPrefix = "HELMFORGE_"

// Config is the runtime configuration of the helmforge server. An empty
// Database means helmforge.db inside DataDir.
type Config struct {
	Listen   string         `yaml:"listen"`
	Database string         `yaml:"database"`
	DataDir  string         `yaml:"dataDir"`
	Broker   BrokerConfig   `yaml:"broker"`
	Log      LogConfig      `yaml:"log"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

// BrokerConfig selects the notification broker. An empty URL keeps
// notifications in process.
type BrokerConfig struct {
	URL string `yaml:"url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RealtimeConfig struct {
	TokenTTL        time.Duration `yaml:"tokenTTL"`
	ReplayRetention time.Duration `yaml:"replayRetention"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Listen: "127.0.0.1:8080",
		Log:    LogConfig{Level: "info", Format: "text"},
		Realtime: RealtimeConfig{
			TokenTTL:        time.Hour,
			ReplayRetention: 24 * time.Hour,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// HELMFORGE_* environment variables and command line flags, later sources
// winning. pflag.ErrHelp is returned unwrapped when help was requested.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	fs := pflag.NewFlagSet("helmforge", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file (env HELMFORGE_CONFIG)")
	listen := fs.String("listen", cfg.Listen, "address to listen on")
	database := fs.String("database", "", "SQLite database path (default <data-dir>/helmforge.db)")
	dataDir := fs.String("data-dir", "", "directory for the database and signing keys")
	brokerURL := fs.String("broker-url", "", "NATS URL; empty keeps notifications in process")
	logLevel := fs.String("log-level", cfg.Log.Level, "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", cfg.Log.Format, "log format: text or json")
	tokenTTL := fs.Duration("token-ttl", cfg.Realtime.TokenTTL, "lifetime of realtime channel tokens")
	retention := fs.Duration("replay-retention", cfg.Realtime.ReplayRetention, "how long replay events are kept")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, pflag.ErrHelp
		}
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	path := *configPath
	if path == "" {
		path = getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	if fs.Changed("listen") {
		cfg.Listen = *listen
	}
	if fs.Changed("database") {
		cfg.Database = *database
	}
	if fs.Changed("data-dir") {
		cfg.DataDir = *dataDir
	}
	if fs.Changed("broker-url") {
		cfg.Broker.URL = *brokerURL
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = *logFormat
	}
	if fs.Changed("token-ttl") {
		cfg.Realtime.TokenTTL = *tokenTTL
	}
	if fs.Changed("replay-retention") {
		cfg.Realtime.ReplayRetention = *retention
	}

	if cfg.DataDir == "" {
		dir, err := paths.DataDir()
		if err != nil {
			return nil, fmt.Errorf("resolving data dir: %w", err)
		}
		cfg.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"LISTEN":     &c.Listen,
		"DATABASE":   &c.Database,
		"DATA_DIR":   &c.DataDir,
		"BROKER_URL": &c.Broker.URL,
		"LOG_LEVEL":  &c.Log.Level,
		"LOG_FORMAT": &c.Log.Format,
	}
	for key, dst := range strs {
		if v := getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"TOKEN_TTL":        &c.Realtime.TokenTTL,
		"REPLAY_RETENTION": &c.Realtime.ReplayRetention,
	}
	for key, dst := range durations {
		v := getenv(envPrefix + key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", envPrefix, key, err)
		}
		*dst = d
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.Realtime.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive, got %s", c.Realtime.TokenTTL)
	}
	if c.Realtime.ReplayRetention <= 0 {
		return fmt.Errorf("replay retention must be positive, got %s", c.Realtime.ReplayRetention)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// NewLogger builds the process logger described by cfg.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", cfg.Format)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
