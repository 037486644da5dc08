package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

const (
	defaultTTL                     = 24 * time.Hour
	defaultEntryCacheTTL           = 5 * time.Second
	defaultAttrCacheTTLVirtual     = 5 * time.Second
	defaultAttrCacheTTLPassthrough = 30 * time.Second
	defaultRetentionGenerations    = uint32(1)
	defaultMetricsAddr             = ":9090"
)

// Config is the single YAML-backed configuration for the daemon, the
// on-disk form of the mount(config) operation's parameters.
type Config struct {
	MountPoint              string        `yaml:"mount_point"`
	CacheRoot               string        `yaml:"cache_root"`
	TTL                     time.Duration `yaml:"ttl"`
	Host                    string        `yaml:"host"`
	AllowOther              bool          `yaml:"allow_other"`
	EntryCacheTTL           time.Duration `yaml:"entry_cache_ttl"`
	AttrCacheTTL            time.Duration `yaml:"attr_cache_ttl"`
	PassthroughAttrCacheTTL time.Duration `yaml:"passthrough_attr_cache_ttl"`
	RetentionGenerations    uint32        `yaml:"retention_generations"`
	MetricsAddr             string        `yaml:"metrics_addr"`
	Auth                    AuthConfig    `yaml:"auth"`
}

// AuthConfig names where the daemon should look for remote credentials.
// Acquiring the token itself is out of this system's scope; these
// fields only locate a pre-resolved credential on disk or in env.
type AuthConfig struct {
	TokenEnvVar       string `yaml:"token_env_var"`
	SSHKeyPath        string `yaml:"ssh_key_path"`
	SSHKnownHostsPath string `yaml:"ssh_known_hosts_path"`
}

var allowedConfigKeys = getAllowedKeys(Config{})
var allowedAuthKeys = getAllowedKeys(AuthConfig{})

// ApplyDefaults fills every zero-valued field with its documented
// default.
func (c *Config) ApplyDefaults() {
	if c.TTL == 0 {
		c.TTL = defaultTTL
	}
	if c.EntryCacheTTL == 0 {
		c.EntryCacheTTL = defaultEntryCacheTTL
	}
	if c.AttrCacheTTL == 0 {
		c.AttrCacheTTL = defaultAttrCacheTTLVirtual
	}
	if c.PassthroughAttrCacheTTL == 0 {
		c.PassthroughAttrCacheTTL = defaultAttrCacheTTLPassthrough
	}
	if c.RetentionGenerations == 0 {
		c.RetentionGenerations = defaultRetentionGenerations
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = defaultMetricsAddr
	}
}

// Validate checks the invariants mount(config) requires before a mount
// is attempted: mount_point must exist and be empty, cache_root and
// host must be set.
func (c *Config) Validate() error {
	if c.MountPoint == "" {
		return fmt.Errorf("config: mount_point is required")
	}
	if !filepath.IsAbs(c.MountPoint) {
		return fmt.Errorf("config: mount_point must be absolute")
	}
	if c.CacheRoot == "" {
		return fmt.Errorf("config: cache_root is required")
	}
	if !filepath.IsAbs(c.CacheRoot) {
		return fmt.Errorf("config: cache_root must be absolute")
	}
	if c.Host == "" {
		return fmt.Errorf("config: host is required")
	}

	info, err := os.Stat(c.MountPoint)
	if err != nil {
		return fmt.Errorf("config: mount_point: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("config: mount_point %q is not a directory", c.MountPoint)
	}
	entries, err := os.ReadDir(c.MountPoint)
	if err != nil {
		return fmt.Errorf("config: mount_point: %w", err)
	}
	if len(entries) != 0 {
		return fmt.Errorf("config: mount_point %q is not empty", c.MountPoint)
	}
	return nil
}

// ParseConfigFile reads and validates path, rejecting unrecognised keys
// the way the teacher's ValidateConfigYaml does, so a typo in the
// config file fails loudly at startup instead of silently doing
// nothing.
func ParseConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := validateConfigYAML(raw); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func validateConfigYAML(data []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	if key := findUnexpectedKey(raw, allowedConfigKeys); key != "" {
		return fmt.Errorf("unexpected key: .%s", key)
	}
	if authMap, ok := raw["auth"].(map[string]interface{}); ok {
		if key := findUnexpectedKey(authMap, allowedAuthKeys); key != "" {
			return fmt.Errorf("unexpected key: .auth.%s", key)
		}
	}
	return nil
}

func getAllowedKeys(v interface{}) []string {
	var keys []string
	t := reflect.TypeOf(v)
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("yaml"); tag != "" {
			keys = append(keys, tag)
		}
	}
	return keys
}

func findUnexpectedKey(raw map[string]interface{}, allowed []string) string {
	for key := range raw {
		if !slices.Contains(allowed, key) {
			return key
		}
	}
	return ""
}

var (
	configReloadSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "repo_mount_config_last_reload_successful",
		Help: "Whether the last configuration reload attempt was successful.",
	})
	configReloadTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "repo_mount_config_last_reload_success_timestamp_seconds",
		Help: "Timestamp of the last successful configuration reload.",
	})
)

// WatchConfig calls onChange once with the initial config, then again
// every time path changes, until ctx is cancelled. It primarily reacts
// to fsnotify events; a poll fallback covers filesystems (notably
// certain container bind-mounts) where fsnotify events don't propagate.
func WatchConfig(ctx context.Context, log *slog.Logger, path string, pollInterval time.Duration, onChange func(*Config)) {
	var lastModTime time.Time

	reload := func() {
		info, err := os.Stat(path)
		if err != nil {
			log.Error("config: failed to stat config file", "err", err)
			configReloadSuccess.Set(0)
			return
		}
		if info.ModTime().Equal(lastModTime) {
			return
		}
		lastModTime = info.ModTime()

		cfg, err := ParseConfigFile(path)
		if err != nil {
			log.Error("config: failed to reload config", "err", err)
			configReloadSuccess.Set(0)
			return
		}
		onChange(cfg)
		configReloadSuccess.Set(1)
		configReloadTime.SetToCurrentTime()
	}

	reload()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("config: fsnotify unavailable, falling back to polling only", "err", err)
		watcher = nil
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			log.Warn("config: failed to watch config directory", "err", err)
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(path) {
				reload()
			}
		case <-ticker.C:
			reload()
		}
	}
}
