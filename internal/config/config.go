package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"media-viewer/internal/cache"
	"media-viewer/internal/media"
	"media-viewer/internal/models"
)

const (
	defaultContentsDir       = "contents"
	defaultThumbnailDir      = "thumbnails"
	defaultListenAddr        = "0.0.0.0:8000"
	defaultAllowedOrigin     = "http://localhost:3000"
	defaultRefreshDebounceMS = 500
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"

	// thumbnailDirDisabled turns the persistent thumbnail mirror off.
	thumbnailDirDisabled = "off"
)

// Settings is the resolved process configuration.
type Settings struct {
	ContentsDir           string
	ThumbnailDir          string // empty when the disk mirror is disabled
	ListenAddr            string
	AllowedOrigins        []string
	OriginsFile           string
	SequenceTTL           time.Duration
	StreamThreshold       int64
	ThumbnailCacheBytes   int64
	ThumbnailCacheEntries int
	ThumbnailWorkers      int
	RefreshDebounce       time.Duration
	LogLevel              string
	LogFormat             string
}

// fileSettings mirrors the optional settings file. Zero values mean "not set".
type fileSettings struct {
	ContentsDir           string   `yaml:"contents_dir" toml:"contents_dir"`
	ThumbnailDir          string   `yaml:"thumbnail_dir" toml:"thumbnail_dir"`
	ListenAddr            string   `yaml:"listen_addr" toml:"listen_addr"`
	AllowedOrigins        []string `yaml:"allowed_origins" toml:"allowed_origins"`
	OriginsFile           string   `yaml:"origins_file" toml:"origins_file"`
	SequenceTTL           string   `yaml:"sequence_ttl" toml:"sequence_ttl"`
	StreamThresholdBytes  int64    `yaml:"stream_threshold_bytes" toml:"stream_threshold_bytes"`
	ThumbnailCacheBytes   int64    `yaml:"thumbnail_cache_bytes" toml:"thumbnail_cache_bytes"`
	ThumbnailCacheEntries int      `yaml:"thumbnail_cache_entries" toml:"thumbnail_cache_entries"`
	ThumbnailWorkers      int      `yaml:"thumbnail_workers" toml:"thumbnail_workers"`
	RefreshDebounceMS     *int     `yaml:"refresh_debounce_ms" toml:"refresh_debounce_ms"`
	LogLevel              string   `yaml:"log_level" toml:"log_level"`
	LogFormat             string   `yaml:"log_format" toml:"log_format"`
}

// AllowedExtensions returns the list of supported media file extensions (lowercase).
func AllowedExtensions() []string {
	return models.SupportedExtensions()
}

// Defaults returns the settings used when nothing is configured. Paths are
// relative to the working directory.
func Defaults() Settings {
	return Settings{
		ContentsDir:           defaultContentsDir,
		ThumbnailDir:          defaultThumbnailDir,
		ListenAddr:            defaultListenAddr,
		AllowedOrigins:        []string{defaultAllowedOrigin},
		SequenceTTL:           cache.DefaultSequenceTTL,
		StreamThreshold:       media.DefaultStreamThreshold,
		ThumbnailCacheBytes:   cache.DefaultThumbnailBytes,
		ThumbnailCacheEntries: cache.DefaultThumbnailEntries,
		ThumbnailWorkers:      runtime.GOMAXPROCS(0),
		RefreshDebounce:       time.Duration(defaultRefreshDebounceMS) * time.Millisecond,
		LogLevel:              defaultLogLevel,
		LogFormat:             defaultLogFormat,
	}
}

// Resolve returns the settings after applying defaults, the settings file
// named by MEDIA_CONFIG (YAML or TOML, by extension) and environment variable
// overrides, in that order. Directories are made absolute and created.
func Resolve() (Settings, error) {
	settings := Defaults()

	if configPath := strings.TrimSpace(os.Getenv("MEDIA_CONFIG")); configPath != "" {
		if err := applyFile(&settings, configPath); err != nil {
			return Settings{}, err
		}
	}

	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

	if err := ValidateListenAddr(settings.ListenAddr); err != nil {
		return Settings{}, err
	}

	contents, err := resolveDir(settings.ContentsDir)
	if err != nil {
		return Settings{}, fmt.Errorf("contents dir: %w", err)
	}
	settings.ContentsDir = contents

	if strings.EqualFold(strings.TrimSpace(settings.ThumbnailDir), thumbnailDirDisabled) {
		settings.ThumbnailDir = ""
	}
	if settings.ThumbnailDir != "" {
		thumbs, err := resolveDir(settings.ThumbnailDir)
		if err != nil {
			return Settings{}, fmt.Errorf("thumbnail dir: %w", err)
		}
		settings.ThumbnailDir = thumbs
	}

	if settings.OriginsFile != "" {
		path, err := resolvePath(settings.OriginsFile)
		if err != nil {
			return Settings{}, fmt.Errorf("origins file: %w", err)
		}
		settings.OriginsFile = path
	}

	return settings, nil
}

func applyFile(settings *Settings, configPath string) error {
	resolved, err := resolvePath(configPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return err
	}

	var file fileSettings
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".toml":
		if err := toml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("parse %s: %w", filepath.Base(resolved), err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("parse %s: %w", filepath.Base(resolved), err)
		}
	default:
		return fmt.Errorf("unsupported settings file type %q", filepath.Ext(resolved))
	}

	if value := strings.TrimSpace(file.ContentsDir); value != "" {
		settings.ContentsDir = value
	}
	if value := strings.TrimSpace(file.ThumbnailDir); value != "" {
		settings.ThumbnailDir = value
	}
	if value := strings.TrimSpace(file.ListenAddr); value != "" {
		settings.ListenAddr = value
	}
	if origins := cleanList(file.AllowedOrigins); len(origins) > 0 {
		settings.AllowedOrigins = origins
	}
	if value := strings.TrimSpace(file.OriginsFile); value != "" {
		settings.OriginsFile = value
	}
	if value := strings.TrimSpace(file.SequenceTTL); value != "" {
		ttl, err := time.ParseDuration(value)
		if err != nil || ttl < 0 {
			return fmt.Errorf("sequence_ttl: invalid duration %q", value)
		}
		settings.SequenceTTL = ttl
	}
	if file.StreamThresholdBytes > 0 {
		settings.StreamThreshold = file.StreamThresholdBytes
	}
	if file.ThumbnailCacheBytes > 0 {
		settings.ThumbnailCacheBytes = file.ThumbnailCacheBytes
	}
	if file.ThumbnailCacheEntries > 0 {
		settings.ThumbnailCacheEntries = file.ThumbnailCacheEntries
	}
	if file.ThumbnailWorkers > 0 {
		settings.ThumbnailWorkers = file.ThumbnailWorkers
	}
	if file.RefreshDebounceMS != nil && *file.RefreshDebounceMS >= 0 {
		settings.RefreshDebounce = time.Duration(*file.RefreshDebounceMS) * time.Millisecond
	}
	if value := strings.TrimSpace(file.LogLevel); value != "" {
		settings.LogLevel = value
	}
	if value := strings.TrimSpace(file.LogFormat); value != "" {
		settings.LogFormat = value
	}
	return nil
}

func applyEnv(settings *Settings) error {
	if value := envString("MEDIA_CONTENTS_DIR"); value != "" {
		settings.ContentsDir = value
	}
	if value := envString("MEDIA_THUMBNAIL_DIR"); value != "" {
		settings.ThumbnailDir = value
	}
	if value := envString("MEDIA_LISTEN_ADDR"); value != "" {
		settings.ListenAddr = value
	}
	if value := envString("ALLOWED_ORIGINS"); value != "" {
		if origins := cleanList(strings.Split(value, ",")); len(origins) > 0 {
			settings.AllowedOrigins = origins
		}
	}
	if value := envString("MEDIA_ORIGINS_FILE"); value != "" {
		settings.OriginsFile = value
	}
	if value := envString("MEDIA_SEQUENCE_TTL"); value != "" {
		ttl, err := time.ParseDuration(value)
		if err != nil || ttl < 0 {
			return fmt.Errorf("MEDIA_SEQUENCE_TTL: invalid duration %q", value)
		}
		settings.SequenceTTL = ttl
	}
	if value, ok := envPositiveInt("MEDIA_STREAM_THRESHOLD_BYTES"); ok {
		settings.StreamThreshold = value
	}
	if value, ok := envPositiveInt("MEDIA_THUMBNAIL_CACHE_BYTES"); ok {
		settings.ThumbnailCacheBytes = value
	}
	if value, ok := envPositiveInt("MEDIA_THUMBNAIL_CACHE_ENTRIES"); ok {
		settings.ThumbnailCacheEntries = int(value)
	}
	if value, ok := envPositiveInt("MEDIA_THUMBNAIL_WORKERS"); ok {
		settings.ThumbnailWorkers = int(value)
	}
	settings.RefreshDebounce = RefreshDebounce(settings.RefreshDebounce)
	if value := envString("MEDIA_LOG_LEVEL"); value != "" {
		settings.LogLevel = value
	}
	if value := envString("MEDIA_LOG_FORMAT"); value != "" {
		settings.LogFormat = value
	}
	return nil
}

// RefreshDebounce returns the duration to wait before reacting to file-system
// change events, from MEDIA_REFRESH_DEBOUNCE_MS or fallback when unset or invalid.
func RefreshDebounce(fallback time.Duration) time.Duration {
	value := envString("MEDIA_REFRESH_DEBOUNCE_MS")
	if value == "" {
		return fallback
	}

	ms, err := strconv.Atoi(value)
	if err != nil || ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// ValidateListenAddr ensures the configured listen address is a host:port pair
// with a numeric port.
func ValidateListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return errors.New("listen address must include a numeric port")
	}
	return nil
}

func envString(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func envPositiveInt(name string) (int64, bool) {
	value := envString(name)
	if value == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func cleanList(values []string) []string {
	var result []string
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			result = append(result, value)
		}
	}
	return result
}

func resolveDir(dir string) (string, error) {
	abs, err := resolvePath(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return filepath.Abs(path)
}
