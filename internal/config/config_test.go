package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var settingsEnv = []string{
	"MEDIA_CONFIG",
	"MEDIA_CONTENTS_DIR",
	"MEDIA_THUMBNAIL_DIR",
	"MEDIA_LISTEN_ADDR",
	"ALLOWED_ORIGINS",
	"MEDIA_ORIGINS_FILE",
	"MEDIA_SEQUENCE_TTL",
	"MEDIA_STREAM_THRESHOLD_BYTES",
	"MEDIA_THUMBNAIL_CACHE_BYTES",
	"MEDIA_THUMBNAIL_CACHE_ENTRIES",
	"MEDIA_THUMBNAIL_WORKERS",
	"MEDIA_REFRESH_DEBOUNCE_MS",
	"MEDIA_LOG_LEVEL",
	"MEDIA_LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range settingsEnv {
		t.Setenv(name, "")
	}
}

func chdirTemp(t *testing.T) string {
	t.Helper()
	temp := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(cwd)
	})
	if err := os.Chdir(temp); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	return temp
}

func TestAllowedExtensionsIsolation(t *testing.T) {
	first := AllowedExtensions()
	second := AllowedExtensions()

	if len(first) == 0 {
		t.Fatalf("expected allowed extensions to be non-empty")
	}

	first[0] = ".doesnotexist"
	if first[0] == second[0] {
		t.Fatalf("mutating returned slice should not affect internal configuration")
	}
}

func TestResolveDefaults(t *testing.T) {
	clearEnv(t)
	temp := chdirTemp(t)

	settings, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	assertSamePath(t, settings.ContentsDir, filepath.Join(temp, "contents"))
	assertSamePath(t, settings.ThumbnailDir, filepath.Join(temp, "thumbnails"))
	if settings.ListenAddr != "0.0.0.0:8000" {
		t.Fatalf("expected default listen address, got %s", settings.ListenAddr)
	}
	if len(settings.AllowedOrigins) != 1 || settings.AllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("expected default origin, got %v", settings.AllowedOrigins)
	}
	if settings.SequenceTTL != 60*time.Second {
		t.Fatalf("expected 60s TTL, got %s", settings.SequenceTTL)
	}
	if settings.StreamThreshold != 1<<20 {
		t.Fatalf("expected 1 MiB threshold, got %d", settings.StreamThreshold)
	}
	if settings.ThumbnailCacheBytes != 64<<20 || settings.ThumbnailCacheEntries != 512 {
		t.Fatalf("unexpected thumbnail cache bounds %d/%d", settings.ThumbnailCacheBytes, settings.ThumbnailCacheEntries)
	}
	if settings.ThumbnailWorkers < 1 {
		t.Fatalf("expected at least one thumbnail worker")
	}
	if settings.RefreshDebounce != 500*time.Millisecond {
		t.Fatalf("expected default debounce, got %s", settings.RefreshDebounce)
	}
	if settings.OriginsFile != "" {
		t.Fatalf("expected no origins file, got %s", settings.OriginsFile)
	}
}

func TestResolveEnvOverrides(t *testing.T) {
	clearEnv(t)
	temp := chdirTemp(t)

	tempHome := filepath.Join(temp, "home")
	if err := os.Mkdir(tempHome, 0o755); err != nil {
		t.Fatalf("mkdir temp home: %v", err)
	}
	t.Setenv("HOME", tempHome)

	t.Setenv("MEDIA_CONTENTS_DIR", "~/media")
	t.Setenv("MEDIA_THUMBNAIL_DIR", "off")
	t.Setenv("MEDIA_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("MEDIA_ORIGINS_FILE", "origins.txt")
	t.Setenv("MEDIA_SEQUENCE_TTL", "5s")
	t.Setenv("MEDIA_STREAM_THRESHOLD_BYTES", "2048")
	t.Setenv("MEDIA_THUMBNAIL_CACHE_ENTRIES", "10")
	t.Setenv("MEDIA_THUMBNAIL_WORKERS", "3")
	t.Setenv("MEDIA_REFRESH_DEBOUNCE_MS", "1500")

	settings, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	assertSamePath(t, settings.ContentsDir, filepath.Join(tempHome, "media"))
	if settings.ThumbnailDir != "" {
		t.Fatalf("expected thumbnail mirror to be disabled, got %s", settings.ThumbnailDir)
	}
	if settings.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("expected custom listen address, got %s", settings.ListenAddr)
	}
	if len(settings.AllowedOrigins) != 2 || settings.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("expected two trimmed origins, got %v", settings.AllowedOrigins)
	}
	if !filepath.IsAbs(settings.OriginsFile) || filepath.Base(settings.OriginsFile) != "origins.txt" {
		t.Fatalf("expected absolute origins file, got %s", settings.OriginsFile)
	}
	if settings.SequenceTTL != 5*time.Second {
		t.Fatalf("expected 5s TTL, got %s", settings.SequenceTTL)
	}
	if settings.StreamThreshold != 2048 {
		t.Fatalf("expected custom threshold, got %d", settings.StreamThreshold)
	}
	if settings.ThumbnailCacheEntries != 10 || settings.ThumbnailWorkers != 3 {
		t.Fatalf("unexpected thumbnail settings %+v", settings)
	}
	if settings.RefreshDebounce != 1500*time.Millisecond {
		t.Fatalf("expected custom debounce, got %s", settings.RefreshDebounce)
	}
}

func TestResolveRejectsBadValues(t *testing.T) {
	clearEnv(t)
	chdirTemp(t)

	t.Setenv("MEDIA_SEQUENCE_TTL", "soon")
	if _, err := Resolve(); err == nil {
		t.Fatalf("expected invalid TTL to be rejected")
	}

	t.Setenv("MEDIA_SEQUENCE_TTL", "")
	t.Setenv("MEDIA_LISTEN_ADDR", "no-port")
	if _, err := Resolve(); err == nil {
		t.Fatalf("expected invalid listen address to be rejected")
	}
}

func TestRefreshDebounce(t *testing.T) {
	fallback := 500 * time.Millisecond

	t.Setenv("MEDIA_REFRESH_DEBOUNCE_MS", "")
	if RefreshDebounce(fallback) != fallback {
		t.Fatalf("expected default debounce")
	}

	t.Setenv("MEDIA_REFRESH_DEBOUNCE_MS", "1500")
	if RefreshDebounce(fallback) != 1500*time.Millisecond {
		t.Fatalf("expected custom debounce")
	}

	t.Setenv("MEDIA_REFRESH_DEBOUNCE_MS", "not-a-number")
	if RefreshDebounce(fallback) != fallback {
		t.Fatalf("expected fallback debounce on parse error")
	}

	t.Setenv("MEDIA_REFRESH_DEBOUNCE_MS", "-10")
	if RefreshDebounce(fallback) != fallback {
		t.Fatalf("expected fallback debounce on negative value")
	}
}

func TestValidateListenAddr(t *testing.T) {
	valid := []string{"127.0.0.1:8080", "localhost:9000", "[::1]:7000", "0.0.0.0:8000", ":8080"}
	for _, addr := range valid {
		if err := ValidateListenAddr(addr); err != nil {
			t.Fatalf("expected %s to be valid: %v", addr, err)
		}
	}

	invalid := []string{"", "8080", "localhost:http", "localhost:70000"}
	for _, addr := range invalid {
		if err := ValidateListenAddr(addr); err == nil {
			t.Fatalf("expected %s to be rejected", addr)
		}
	}
}

func TestResolveFromYAMLFile(t *testing.T) {
	clearEnv(t)
	temp := chdirTemp(t)

	configPath := filepath.Join(temp, "media.yaml")
	content := "" +
		"contents_dir: library\n" +
		"thumbnail_dir: cache/thumbs\n" +
		"listen_addr: 127.0.0.1:8100\n" +
		"allowed_origins:\n" +
		"  - https://file.example\n" +
		"sequence_ttl: 2m\n" +
		"thumbnail_cache_bytes: 1048576\n" +
		"refresh_debounce_ms: 0\n" +
		"log_level: debug\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("MEDIA_CONFIG", configPath)

	settings, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	assertSamePath(t, settings.ContentsDir, filepath.Join(temp, "library"))
	assertSamePath(t, settings.ThumbnailDir, filepath.Join(temp, "cache", "thumbs"))
	if settings.ListenAddr != "127.0.0.1:8100" {
		t.Fatalf("expected file listen address, got %s", settings.ListenAddr)
	}
	if len(settings.AllowedOrigins) != 1 || settings.AllowedOrigins[0] != "https://file.example" {
		t.Fatalf("expected file origins, got %v", settings.AllowedOrigins)
	}
	if settings.SequenceTTL != 2*time.Minute {
		t.Fatalf("expected 2m TTL, got %s", settings.SequenceTTL)
	}
	if settings.ThumbnailCacheBytes != 1<<20 {
		t.Fatalf("expected file cache bytes, got %d", settings.ThumbnailCacheBytes)
	}
	if settings.RefreshDebounce != 0 {
		t.Fatalf("expected explicit zero debounce, got %s", settings.RefreshDebounce)
	}
	if settings.LogLevel != "debug" {
		t.Fatalf("expected debug level, got %s", settings.LogLevel)
	}

	t.Setenv("MEDIA_LISTEN_ADDR", "127.0.0.1:8200")
	settings, err = Resolve()
	if err != nil {
		t.Fatalf("Resolve env override: %v", err)
	}
	if settings.ListenAddr != "127.0.0.1:8200" {
		t.Fatalf("expected env override to win, got %s", settings.ListenAddr)
	}
}

func TestResolveFromTOMLFile(t *testing.T) {
	clearEnv(t)
	temp := chdirTemp(t)

	configPath := filepath.Join(temp, "media.toml")
	content := "" +
		"contents_dir = \"shows\"\n" +
		"thumbnail_dir = \"off\"\n" +
		"stream_threshold_bytes = 4096\n" +
		"thumbnail_workers = 2\n" +
		"log_format = \"console\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("MEDIA_CONFIG", configPath)

	settings, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	assertSamePath(t, settings.ContentsDir, filepath.Join(temp, "shows"))
	if settings.ThumbnailDir != "" {
		t.Fatalf("expected mirror disabled, got %s", settings.ThumbnailDir)
	}
	if settings.StreamThreshold != 4096 || settings.ThumbnailWorkers != 2 {
		t.Fatalf("unexpected settings %+v", settings)
	}
	if settings.LogFormat != "console" {
		t.Fatalf("expected console format, got %s", settings.LogFormat)
	}
}

func TestResolveRejectsUnknownFileType(t *testing.T) {
	clearEnv(t)
	temp := chdirTemp(t)

	configPath := filepath.Join(temp, "media.ini")
	if err := os.WriteFile(configPath, []byte("x=1"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("MEDIA_CONFIG", configPath)

	if _, err := Resolve(); err == nil {
		t.Fatalf("expected unsupported settings file to be rejected")
	}
}

func assertSamePath(t *testing.T, got, want string) {
	t.Helper()
	resolvedGot, err := filepath.EvalSymlinks(got)
	if err != nil {
		t.Fatalf("eval symlinks for %s: %v", got, err)
	}
	resolvedWant, err := filepath.EvalSymlinks(want)
	if err != nil {
		t.Fatalf("eval symlinks for %s: %v", want, err)
	}
	if resolvedGot != resolvedWant {
		t.Fatalf("expected %s, got %s", resolvedWant, resolvedGot)
	}
}
