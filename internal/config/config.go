// Package config loads relay settings from a YAML file, a .env file and the
// environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/blacktop/xrelay/internal/xpost"
)

const (
	envOperator          = "XRELAY_OPERATOR"
	envSecret            = "XRELAY_SECRET"
	envListen            = "XRELAY_LISTEN"
	envStore             = "XRELAY_STORE"
	envMediaDir          = "XRELAY_MEDIA_DIR"
	envPublishTimeout    = "XRELAY_PUBLISH_TIMEOUT"
	envTraceEndpoint     = "XRELAY_TRACE_ENDPOINT"
	envWatchDestinations = "XRELAY_WATCH_DESTINATIONS"

	DefaultListen   = ":8080"
	DefaultStore    = "file://cache.json"
	DefaultMediaDir = "media"
)

// Config holds the relay settings. Adapter credentials are not part of it;
// each adapter reads its own environment variables.
type Config struct {
	// Operator is the account handle whose posts may be relayed.
	Operator string `yaml:"operator"`
	// Secret must accompany every HTTP request.
	Secret   string `yaml:"secret"`
	Listen   string `yaml:"listen"`
	Store    string `yaml:"store"`
	MediaDir string `yaml:"media_dir"`
	// PublishTimeout bounds each destination publish. Zero disables it.
	PublishTimeout    Duration `yaml:"publish_timeout"`
	TraceEndpoint     string   `yaml:"trace_endpoint"`
	WatchDestinations []string `yaml:"watch_destinations"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Load builds the configuration. path may be empty; a missing .env file is
// ignored. The environment always wins.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Operator, envOperator)
	setString(&c.Secret, envSecret)
	setString(&c.Listen, envListen)
	setString(&c.Store, envStore)
	setString(&c.MediaDir, envMediaDir)
	setString(&c.TraceEndpoint, envTraceEndpoint)

	if v := strings.TrimSpace(os.Getenv(envPublishTimeout)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envPublishTimeout, err)
		}
		c.PublishTimeout = Duration(d)
	}
	if v := strings.TrimSpace(os.Getenv(envWatchDestinations)); v != "" {
		c.WatchDestinations = strings.Split(v, ",")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if c.MediaDir == "" {
		c.MediaDir = DefaultMediaDir
	}
}

// Watch returns the parsed watcher destinations. The watcher only reads
// Mastodon, so "all" leaves Mastodon out.
func (c *Config) Watch() ([]xpost.Network, error) {
	return xpost.ParseDestinations(c.WatchDestinations, xpost.Mastodon)
}

// Timeout returns the per-destination publish timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.PublishTimeout)
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}
