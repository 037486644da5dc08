package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utilitywarehouse/repo-mount/fsmount"
	"github.com/utilitywarehouse/repo-mount/reposcache"
)

const metricsNamespace = "repo_mount"

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
)

const (
	exitOK = iota
	exitGeneric
	exitConfig
	exitMountFailure
	exitUnsupportedPlatform
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

func envString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func usage() {
	fmt.Fprintf(os.Stderr, "NAME:\n")
	fmt.Fprintf(os.Stderr, "\trepo-mount - mounts remote git repositories as a read-only directory tree.\n")
	fmt.Fprintf(os.Stderr, "\nUsage:\n")
	fmt.Fprintf(os.Stderr, "\trepo-mount [global options]\n")
	fmt.Fprintf(os.Stderr, "\nGLOBAL OPTIONS:\n")
	fmt.Fprintf(os.Stderr, "\t-log-level value          (default: 'info') Log level [$LOG_LEVEL]\n")
	fmt.Fprintf(os.Stderr, "\t-config value             (default: '/etc/repo-mount/config.yaml') Absolute path to the config file [$REPO_MOUNT_CONFIG]\n")
	fmt.Fprintf(os.Stderr, "\t-watch-config value       (default: true) watch config for changes and reload them into the running mount [$REPO_MOUNT_WATCH_CONFIG]\n")
	fmt.Fprintf(os.Stderr, "\t-http-bind-address value  (default: ':9090') The address the metrics/pprof web server binds to [$REPO_MOUNT_HTTP_BIND]\n")
	fmt.Fprintf(os.Stderr, "\t-github-webhook-secret    (default: '') The GitHub webhook secret used to validate payloads [$GITHUB_WEBHOOK_SECRET]\n")
	fmt.Fprintf(os.Stderr, "\t-github-skip-sig-validation (default: false) If set, GitHub webhook signature validation is skipped [$GITHUB_SKIP_SIG_VALIDATION]\n")
	fmt.Fprintf(os.Stderr, "\t-github-webhook-path      (default: '/github-webhook') The path on which the web server receives GitHub webhook events [$GITHUB_WEBHOOK_PATH]\n")
	os.Exit(exitGeneric)
}

func main() {
	os.Exit(run())
}

func run() int {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		logger.Error("unsupported platform", "os", runtime.GOOS)
		return exitUnsupportedPlatform
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flagLogLevel := flag.String("log-level", envString("LOG_LEVEL", "info"), "Log level")
	flagConfig := flag.String("config", envString("REPO_MOUNT_CONFIG", "/etc/repo-mount/config.yaml"), "Absolute path to the config file")
	flagWatchConfig := flag.Bool("watch-config", envBool("REPO_MOUNT_WATCH_CONFIG", true), "watch config for changes and reload them into the running mount")
	flagHTTPBind := flag.String("http-bind-address", envString("REPO_MOUNT_HTTP_BIND", defaultMetricsAddr), "The address the metrics/pprof web server binds to")
	flagGithubWhSecret := flag.String("github-webhook-secret", envString("GITHUB_WEBHOOK_SECRET", ""), "The GitHub webhook secret used to validate payloads")
	flagGithubWhSkipValidation := flag.Bool("github-skip-sig-validation", envBool("GITHUB_SKIP_SIG_VALIDATION", false), "If set, GitHub webhook signature validation is skipped")
	flagGithubWhPath := flag.String("github-webhook-path", envString("GITHUB_WEBHOOK_PATH", "/github-webhook"), "The path on which the web server receives GitHub webhook events")
	flagVersion := flag.Bool("version", false, "repo-mount version")

	flag.Usage = usage
	flag.Parse()

	info, _ := debug.ReadBuildInfo()
	if *flagVersion {
		fmt.Printf("version=%s go=%s\n", info.Main.Version, info.GoVersion)
		return exitOK
	}

	if v, ok := levelStrings[strings.ToLower(*flagLogLevel)]; ok {
		loggerLevel.Set(v)
	}
	logger.Info("version", "app", info.Main.Version, "go", info.GoVersion)
	logger.Info("config", "path", *flagConfig, "watch", *flagWatchConfig)

	cfg, err := ParseConfigFile(*flagConfig)
	if err != nil {
		logger.Error("unable to parse config file", "err", err)
		return exitConfig
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "err", err)
		return exitConfig
	}

	registerer := prometheus.NewRegistry()
	reposcache.EnableMetrics(metricsNamespace, registerer)
	fsmount.EnableMetrics(metricsNamespace, registerer)
	registerer.MustRegister(configReloadSuccess, configReloadTime)

	resolver, err := newConfigResolver(cfg)
	if err != nil {
		logger.Error("invalid config", "err", err)
		return exitConfig
	}

	cache := reposcache.New(reposcache.Config{
		Root:                 cfg.CacheRoot,
		TTL:                  cfg.TTL,
		RetentionGenerations: cfg.RetentionGenerations,
		Log:                  logger.With("component", "reposcache"),
	}, resolver, nil)

	if err := cache.Boot(); err != nil {
		logger.Error("cache boot failed", "err", err)
		return exitGeneric
	}

	handle, err := fsmount.Mount(fsmount.MountOptions{
		MountPoint: cfg.MountPoint,
		AllowOther: cfg.AllowOther,
		FSName:     cfg.Host,
	}, fsmount.Config{
		CacheRoot:               cfg.CacheRoot,
		EntryCacheTTL:           cfg.EntryCacheTTL,
		AttrCacheTTL:            cfg.AttrCacheTTL,
		PassthroughAttrCacheTTL: cfg.PassthroughAttrCacheTTL,
		Log:                     logger.With("component", "fsmount"),
	}, cache)
	if err != nil {
		logger.Error("mount failed", "mount_point", cfg.MountPoint, "err", err)
		return exitMountFailure
	}
	logger.Info("mounted", "mount_point", cfg.MountPoint, "cache_root", cfg.CacheRoot)

	if *flagWatchConfig {
		go WatchConfig(ctx, logger.With("component", "config"), *flagConfig, 10*time.Second, func(next *Config) {
			reconcileConfig(logger, cache, next)
		})
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if *flagGithubWhSkipValidation || *flagGithubWhSecret != "" {
		logger.Info("registering github webhook", "path", *flagGithubWhPath)
		mux.Handle(*flagGithubWhPath, &GithubWebhookHandler{
			cache:             cache,
			secret:            *flagGithubWhSecret,
			skipSigValidation: *flagGithubWhSkipValidation,
			log:               logger.With("component", "github-webhook"),
		})
	}

	server := &http.Server{
		Addr:              *flagHTTPBind,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       5 * time.Second,
		ReadHeaderTimeout: 1 * time.Second,
	}
	go func() {
		logger.Info("starting web server", "addr", *flagHTTPBind)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server terminated", "err", err)
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	unmounted := make(chan struct{})
	go func() {
		handle.Wait()
		close(unmounted)
	}()

	select {
	case <-stop:
		logger.Info("shutting down...")
	case <-unmounted:
		logger.Warn("filesystem unmounted externally, shutting down")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown http server", "err", err)
	}

	if err := handle.Unmount(); err != nil {
		logger.Warn("unmount failed", "err", err)
	}

	select {
	case <-unmounted:
	case <-time.After(5 * time.Second):
		logger.Warn("timed out waiting for unmount")
	case sig := <-stop:
		logger.Info("second signal received, terminating", "signal", sig)
		return exitGeneric
	}

	return exitOK
}

// reconcileConfig applies the hot-reloadable subset of a changed config
// (ttl, retention_generations) to the running cache, the way the
// teacher's ensureConfig folds a changed RepoPoolConfig into a running
// RepoPool without tearing it down. mount_point and cache_root cannot
// change without remounting, so they're intentionally ignored here.
func reconcileConfig(log *slog.Logger, cache *reposcache.Cache, next *Config) {
	log.Info("config changed, reconciling", "ttl", next.TTL, "retention_generations", next.RetentionGenerations)
	cache.UpdateTunables(next.TTL, next.RetentionGenerations)
}
