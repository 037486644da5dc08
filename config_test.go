package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseConfigFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
mount_point: /mnt/repos
cache_root: /var/cache/repo-mount
host: https://github.com
`)

	cfg, err := ParseConfigFile(path)
	if err != nil {
		t.Fatalf("ParseConfigFile: %v", err)
	}
	if cfg.TTL != defaultTTL {
		t.Errorf("expected default ttl %v, got %v", defaultTTL, cfg.TTL)
	}
	if cfg.AttrCacheTTL != defaultAttrCacheTTLVirtual {
		t.Errorf("expected default attr cache ttl %v, got %v", defaultAttrCacheTTLVirtual, cfg.AttrCacheTTL)
	}
	if cfg.PassthroughAttrCacheTTL != defaultAttrCacheTTLPassthrough {
		t.Errorf("expected default passthrough attr cache ttl %v, got %v", defaultAttrCacheTTLPassthrough, cfg.PassthroughAttrCacheTTL)
	}
	if cfg.RetentionGenerations != defaultRetentionGenerations {
		t.Errorf("expected default retention %v, got %v", defaultRetentionGenerations, cfg.RetentionGenerations)
	}
	if cfg.MetricsAddr != defaultMetricsAddr {
		t.Errorf("expected default metrics addr %v, got %v", defaultMetricsAddr, cfg.MetricsAddr)
	}
}

func TestParseConfigFileRejectsUnexpectedKey(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
mount_point: /mnt/repos
cache_root: /var/cache/repo-mount
host: https://github.com
typo_field: oops
`)

	if _, err := ParseConfigFile(path); err == nil {
		t.Fatal("expected an error for an unexpected top-level key")
	}
}

func TestParseConfigFileRejectsUnexpectedAuthKey(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
mount_point: /mnt/repos
cache_root: /var/cache/repo-mount
host: https://github.com
auth:
  bearer_token: oops
`)

	if _, err := ParseConfigFile(path); err == nil {
		t.Fatal("expected an error for an unexpected auth key")
	}
}

func TestParseConfigFileHonoursExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
mount_point: /mnt/repos
cache_root: /var/cache/repo-mount
host: https://github.com
ttl: 1h
retention_generations: 3
allow_other: true
auth:
  token_env_var: GITHUB_TOKEN
`)

	cfg, err := ParseConfigFile(path)
	if err != nil {
		t.Fatalf("ParseConfigFile: %v", err)
	}
	if cfg.TTL != time.Hour {
		t.Errorf("expected ttl 1h, got %v", cfg.TTL)
	}
	if cfg.RetentionGenerations != 3 {
		t.Errorf("expected retention 3, got %v", cfg.RetentionGenerations)
	}
	if !cfg.AllowOther {
		t.Error("expected allow_other true")
	}
	if cfg.Auth.TokenEnvVar != "GITHUB_TOKEN" {
		t.Errorf("expected token env var GITHUB_TOKEN, got %q", cfg.Auth.TokenEnvVar)
	}
}

func TestConfigValidateRequiresEmptyMountPoint(t *testing.T) {
	mountDir := t.TempDir()
	cacheDir := t.TempDir()

	cfg := &Config{MountPoint: mountDir, CacheRoot: cacheDir, Host: "https://github.com"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected empty mount point to validate, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(mountDir, "stray"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected non-empty mount point to fail validation")
	}
}

func TestConfigValidateRequiresAbsolutePaths(t *testing.T) {
	cfg := &Config{MountPoint: "relative/path", CacheRoot: "/tmp", Host: "https://github.com"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected relative mount_point to fail validation")
	}
}

func TestWatchConfigPicksUpChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
mount_point: /mnt/repos
cache_root: /var/cache/repo-mount
host: https://github.com
ttl: 1h
`)

	changes := make(chan *Config, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	go WatchConfig(ctx, log, path, 20*time.Millisecond, func(c *Config) {
		changes <- c
	})

	first := <-changes
	if first.TTL != time.Hour {
		t.Fatalf("expected initial ttl 1h, got %v", first.TTL)
	}

	// Force a distinct mtime: some filesystems have 1s mtime resolution.
	time.Sleep(1100 * time.Millisecond)
	writeConfig(t, dir, `
mount_point: /mnt/repos
cache_root: /var/cache/repo-mount
host: https://github.com
ttl: 2h
`)

	select {
	case second := <-changes:
		if second.TTL != 2*time.Hour {
			t.Fatalf("expected reloaded ttl 2h, got %v", second.TTL)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
