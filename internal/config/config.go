package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rflorenc/fitsync/internal/models"
)

// Remote store kinds.
const (
	RemoteHTTP   = "http"
	RemoteMongo  = "mongo"
	RemoteMemory = "memory"
)

// RemoteConfig selects and tunes the account-record service.
type RemoteConfig struct {
	Kind          string                `yaml:"kind"`
	Endpoint      models.RemoteEndpoint `yaml:"endpoint"`
	MongoURI      string                `yaml:"mongo_uri"`
	MongoDatabase string                `yaml:"mongo_database"`
	RatePerSec    float64               `yaml:"rate_per_sec"`
	Burst         int                   `yaml:"burst"`
	Timeout       time.Duration         `yaml:"timeout"`
}

// ConflictConfig names the conflict strategy per logical key.
type ConflictConfig struct {
	Default   string            `yaml:"default"`
	Overrides map[string]string `yaml:"overrides"`
}

// Config holds all configuration (file, dotenv, environment, CLI flags).
type Config struct {
	Listen    string         `yaml:"listen"`
	LogLevel  string         `yaml:"log_level"`
	LocalDB   string         `yaml:"local_db"`
	Remote    RemoteConfig   `yaml:"remote"`
	Conflicts ConflictConfig `yaml:"conflicts"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		LogLevel: "info",
		LocalDB:  filepath.Join(".fitsync", "fitsync.db"),
		Remote: RemoteConfig{
			Kind:       RemoteHTTP,
			RatePerSec: 5,
			Burst:      1,
			Timeout:    15 * time.Second,
		},
	}
}

// Load builds the configuration with precedence, lowest first: defaults,
// the YAML file at path, .env.local (found by walking up from the working
// directory), FITSYNC_* environment variables. CLI flags are applied by the
// caller on top. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
	}

	if envPath := findEnvLocal(); envPath != "" {
		// Existing environment variables win over the file.
		_ = godotenv.Load(envPath)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	c.Remote.Endpoint.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// loadFile overlays a YAML config file. Keys absent from the file keep their
// current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setString("FITSYNC_LISTEN", &c.Listen)
	setString("FITSYNC_LOG_LEVEL", &c.LogLevel)
	setString("FITSYNC_LOCAL_DB", &c.LocalDB)
	setString("FITSYNC_REMOTE_KIND", &c.Remote.Kind)
	setString("FITSYNC_REMOTE_SCHEME", &c.Remote.Endpoint.Scheme)
	setString("FITSYNC_REMOTE_HOST", &c.Remote.Endpoint.Host)
	setString("FITSYNC_MONGO_URI", &c.Remote.MongoURI)
	setString("FITSYNC_MONGO_DATABASE", &c.Remote.MongoDatabase)
	setString("FITSYNC_CONFLICT_DEFAULT", &c.Conflicts.Default)
	if tok := getEnvOrFile("FITSYNC_REMOTE_TOKEN", "FITSYNC_REMOTE_TOKEN_FILE"); tok != "" {
		c.Remote.Endpoint.Token = tok
	}

	if v := os.Getenv("FITSYNC_REMOTE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FITSYNC_REMOTE_PORT: %w", err)
		}
		c.Remote.Endpoint.Port = port
	}
	if v := os.Getenv("FITSYNC_REMOTE_INSECURE"); v != "" {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FITSYNC_REMOTE_INSECURE: %w", err)
		}
		c.Remote.Endpoint.Insecure = insecure
	}
	if v := os.Getenv("FITSYNC_REMOTE_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FITSYNC_REMOTE_RATE: %w", err)
		}
		c.Remote.RatePerSec = rate
	}
	if v := os.Getenv("FITSYNC_REMOTE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FITSYNC_REMOTE_TIMEOUT: %w", err)
		}
		c.Remote.Timeout = d
	}
	return nil
}

// Validate checks values that cannot be checked by the YAML decoder. The
// remote connection details are checked separately by RemoteConfig.Validate,
// since only some commands talk to the remote.
func (c *Config) Validate() error {
	switch c.Remote.Kind {
	case RemoteHTTP, RemoteMongo, RemoteMemory:
	default:
		return fmt.Errorf("remote.kind %q: want %s, %s or %s", c.Remote.Kind, RemoteHTTP, RemoteMongo, RemoteMemory)
	}
	if c.Remote.RatePerSec < 0 {
		return fmt.Errorf("remote.rate_per_sec must not be negative")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// Validate checks that the selected remote kind has what it needs to connect.
func (r *RemoteConfig) Validate() error {
	switch r.Kind {
	case RemoteHTTP:
		if r.Endpoint.Host == "" {
			return fmt.Errorf("remote.endpoint.host is required for the %s remote", RemoteHTTP)
		}
	case RemoteMongo:
		if r.MongoURI == "" {
			return fmt.Errorf("remote.mongo_uri is required for the %s remote", RemoteMongo)
		}
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set.
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

// findEnvLocal searches for .env.local from the working directory up to the
// user's home directory or the filesystem root.
func findEnvLocal() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	home, _ := os.UserHomeDir()
	return findUp(filepath.Clean(cwd), filepath.Clean(home), ".env.local")
}

func findUp(dir, stop, name string) string {
	for {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
		if dir == stop {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
