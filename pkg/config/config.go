// Package config holds the hushroom runtime settings.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envPrefix = "HUSHROOM_"

// Storage backends.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreMemory = "memory"
)

type Config struct {
	Name   string
	Avatar string

	// Port is the libp2p listen port; 0 picks one at random.
	Port       int
	RelayAddr  string
	EnableMDNS bool
	EnableNAT  bool

	DataDir    string
	Store      string
	StoreQuota int

	// HTTPAddr serves the UI bridge and metrics; empty disables it.
	HTTPAddr    string
	BotEndpoint string

	JoinTimeout   time.Duration
	BotTimeout    time.Duration
	CreateDelay   time.Duration
	ProbeInterval time.Duration

	LogLevel string
	// LogFile defaults to hushroom.log in DataDir so logs stay out of the terminal.
	LogFile string
}

// DefaultDataDir returns ~/.hushroom.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".hushroom"), nil
}

func Default() Config {
	dataDir, err := DefaultDataDir()
	if err != nil {
		dataDir = ".hushroom"
	}
	return Config{
		EnableMDNS:    true,
		EnableNAT:     true,
		DataDir:       dataDir,
		Store:         StoreSQLite,
		StoreQuota:    5 << 20,
		HTTPAddr:      "127.0.0.1:7777",
		JoinTimeout:   10 * time.Second,
		BotTimeout:    30 * time.Second,
		CreateDelay:   500 * time.Millisecond,
		ProbeInterval: 5 * time.Second,
		LogLevel:      "info",
	}
}

// Parse reads flags from args on top of defaults and HUSHROOM_* variables
// from getenv. Flags win over the environment.
func Parse(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("hushroom", flag.ContinueOnError)
	fs.StringVar(&cfg.Name, "name", cfg.Name, "Display name (anonymous guest if empty)")
	fs.StringVar(&cfg.Avatar, "avatar", cfg.Avatar, "Avatar URL")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Listen port (random if not specified)")
	fs.StringVar(&cfg.RelayAddr, "relay", cfg.RelayAddr, "Custom relay server multiaddress")
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Data directory")
	fs.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "UI bridge listen address, empty to disable")
	fs.StringVar(&cfg.BotEndpoint, "bot-endpoint", cfg.BotEndpoint, "AI bot service URL, empty for offline bots")
	fs.DurationVar(&cfg.JoinTimeout, "join-timeout", cfg.JoinTimeout, "How long a join waits for the host")
	fs.DurationVar(&cfg.BotTimeout, "bot-timeout", cfg.BotTimeout, "Timeout for each bot service call")
	fs.DurationVar(&cfg.CreateDelay, "create-delay", cfg.CreateDelay, "Pause before a created room becomes active")
	fs.DurationVar(&cfg.ProbeInterval, "probe-interval", cfg.ProbeInterval, "Connectivity probe interval")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Log file, defaults to hushroom.log in the data directory")
	fs.BoolVar(&cfg.EnableMDNS, "mdns", cfg.EnableMDNS, "Discover peers on the local network")
	fs.BoolVar(&cfg.EnableNAT, "nat", cfg.EnableNAT, "Enable hole punching, port mapping and auto relay")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "Storage backend: sqlite, file or memory")
	fs.IntVar(&cfg.StoreQuota, "store-quota", cfg.StoreQuota, "Largest value in bytes the store accepts, 0 for no limit")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if getenv == nil {
		return nil
	}
	strs := map[string]*string{
		"NAME":         &c.Name,
		"DATA":         &c.DataDir,
		"HTTP":         &c.HTTPAddr,
		"RELAY":        &c.RelayAddr,
		"BOT_ENDPOINT": &c.BotEndpoint,
		"LOG_LEVEL":    &c.LogLevel,
		"STORE":        &c.Store,
	}
	for key, dst := range strs {
		if v, ok := lookup(getenv, key); ok {
			*dst = v
		}
	}
	if v, ok := lookup(getenv, "PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sPORT: %w", envPrefix, err)
		}
		c.Port = port
	}
	if v, ok := lookup(getenv, "JOIN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sJOIN_TIMEOUT: %w", envPrefix, err)
		}
		c.JoinTimeout = d
	}
	return nil
}

func lookup(getenv func(string) string, key string) (string, bool) {
	v := strings.TrimSpace(getenv(envPrefix + key))
	return v, v != ""
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data directory is required"))
	}
	switch c.Store {
	case StoreSQLite, StoreFile, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.StoreQuota < 0 {
		errs = append(errs, errors.New("store quota cannot be negative"))
	}
	if c.JoinTimeout <= 0 {
		errs = append(errs, errors.New("join timeout must be positive"))
	}
	if c.BotTimeout <= 0 {
		errs = append(errs, errors.New("bot timeout must be positive"))
	}
	if c.CreateDelay < 0 {
		errs = append(errs, errors.New("create delay cannot be negative"))
	}
	if c.ProbeInterval <= 0 {
		errs = append(errs, errors.New("probe interval must be positive"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Logger builds the JSON file logger described by the config.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logFile := c.LogFile
	if logFile == "" {
		if err := os.MkdirAll(c.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		logFile = filepath.Join(c.DataDir, "hushroom.log")
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{logFile}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
