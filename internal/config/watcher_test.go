package config_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sarathi-ai/voicecore/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
providers:
  primary:
    name: openai
    api_key: sk-test
limiter:
  tts_per_hour: 100
`

// watcherHotYAML changes only fields the service can apply live.
const watcherHotYAML = `
server:
  log_level: debug
providers:
  primary:
    name: openai
    api_key: sk-test
limiter:
  tts_per_hour: 50
`

// watcherColdYAML changes only the listen address, which needs a restart.
const watcherColdYAML = `
server:
  listen_addr: ":9999"
  log_level: info
providers:
  primary:
    name: openai
    api_key: sk-test
limiter:
  tts_per_hour: 100
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func watcherOpts() []config.WatcherOption {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return []config.WatcherOption{
		config.WithInterval(50 * time.Millisecond),
		config.WithWatcherLogger(quiet),
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherBaseYAML)

	w, err := config.NewWatcher(cfgPath, nil, watcherOpts()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Limiter.TTSPerHour != 100 {
		t.Errorf("tts_per_hour = %d, want 100", cfg.Limiter.TTSPerHour)
	}
}

func TestWatcher_DeliversHotReloadDiff(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherBaseYAML)

	var mu sync.Mutex
	var gotDiff config.ConfigDiff
	var gotNext *config.Config
	applied := make(chan struct{}, 1)

	w, err := config.NewWatcher(cfgPath, func(diff config.ConfigDiff, next *config.Config) {
		mu.Lock()
		gotDiff = diff
		gotNext = next
		mu.Unlock()
		select {
		case applied <- struct{}{}:
		default:
		}
	}, watcherOpts()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Give the first poll a moment, then edit the file.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, cfgPath, watcherHotYAML)

	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("apply callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()

	if !gotDiff.LogLevelChanged || gotDiff.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v, want change to debug", gotDiff)
	}
	if !gotDiff.RateCapsChanged || gotDiff.NewTTSPerHour != 50 {
		t.Errorf("rate cap diff = %+v, want tts_per_hour 50", gotDiff)
	}
	if gotNext == nil || gotNext.Server.LogLevel != config.LogDebug {
		t.Errorf("next config = %+v, want log_level debug", gotNext)
	}
	if cur := w.Current(); cur.Limiter.TTSPerHour != 50 {
		t.Errorf("Current() tts_per_hour = %d, want 50", cur.Limiter.TTSPerHour)
	}
}

func TestWatcher_RestartOnlyChangeSkipsApply(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherBaseYAML)

	var mu sync.Mutex
	applies := 0

	w, err := config.NewWatcher(cfgPath, func(config.ConfigDiff, *config.Config) {
		mu.Lock()
		applies++
		mu.Unlock()
	}, watcherOpts()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, cfgPath, watcherColdYAML)
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	calls := applies
	mu.Unlock()
	if calls != 0 {
		t.Errorf("apply fired %d times for a restart-only change, want 0", calls)
	}

	// Current still tracks the file even when nothing can be applied live.
	if cur := w.Current(); cur.Server.ListenAddr != ":9999" {
		t.Errorf("Current() listen_addr = %q, want :9999", cur.Server.ListenAddr)
	}
}

func TestWatcher_InvalidFileKeepsLastGoodConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherBaseYAML)

	var mu sync.Mutex
	applies := 0

	w, err := config.NewWatcher(cfgPath, func(config.ConfigDiff, *config.Config) {
		mu.Lock()
		applies++
		mu.Unlock()
	}, watcherOpts()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, cfgPath, watcherInvalidYAML)
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	calls := applies
	mu.Unlock()
	if calls != 0 {
		t.Errorf("apply fired %d times for an invalid file, want 0", calls)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() log_level = %q, want the pre-edit info", cur.Server.LogLevel)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherBaseYAML)

	var mu sync.Mutex
	applies := 0

	w, err := config.NewWatcher(cfgPath, func(config.ConfigDiff, *config.Config) {
		mu.Lock()
		applies++
		mu.Unlock()
	}, watcherOpts()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Bump the mtime without changing content.
	time.Sleep(100 * time.Millisecond)
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(cfgPath, now, now); err != nil {
		t.Fatalf("touch file: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if applies != 0 {
		t.Errorf("apply fired %d times for a touch-only change, want 0", applies)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil, watcherOpts()...); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherBaseYAML)

	w, err := config.NewWatcher(cfgPath, nil, watcherOpts()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w.Stop()
	w.Stop()
	w.Stop()
}
