package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_DefaultsOnFirstRun(t *testing.T) {
	configDir := t.TempDir()
	cfg, err := NewConfigWithDir(configDir)
	if err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}

	if got := cfg.DefaultBackend().BaseURL; got != DefaultBackendBaseURL {
		t.Errorf("Expected backend_base_url %q, got %q", DefaultBackendBaseURL, got)
	}
	if cfg.GetListen() != DefaultListen {
		t.Errorf("Expected listen %q, got %q", DefaultListen, cfg.GetListen())
	}
	if cfg.KeepaliveInterval() != 10*time.Second {
		t.Errorf("Expected keepalive interval 10s, got %v", cfg.KeepaliveInterval())
	}
	if cfg.TerminalWatchdog() != 60*time.Second {
		t.Errorf("Expected watchdog 60s, got %v", cfg.TerminalWatchdog())
	}
	if cfg.DrainTimeout() != 5*time.Second {
		t.Errorf("Expected drain timeout 5s, got %v", cfg.DrainTimeout())
	}
	if cfg.GetLogLevel() != "basic" {
		t.Errorf("Expected log_level basic, got %q", cfg.GetLogLevel())
	}
	if cfg.GetMetricsExport() != MetricsExportNone {
		t.Errorf("Expected metrics_export none, got %q", cfg.GetMetricsExport())
	}
	if cfg.GetCacheMaxBytes() != 0 {
		t.Errorf("Expected cache disabled by default, got %d", cfg.GetCacheMaxBytes())
	}
	if cfg.GetJWTSecret() == "" {
		t.Error("Expected a generated jwt secret")
	}
	if cfg.HasAdminSecret() {
		t.Error("Expected no admin secret by default")
	}

	// First run must persist the defaults
	if _, err := os.Stat(filepath.Join(configDir, ConfigFileName)); err != nil {
		t.Errorf("Expected config file to be written: %v", err)
	}
}

func TestConfig_LoadYAML(t *testing.T) {
	configDir := t.TempDir()
	configFile := filepath.Join(configDir, ConfigFileName)
	content := `backend_base_url: http://mlx.local:8080/v1
backend_api_key: sk-local
backends:
  - name: mlx
    base_url: http://mlx.local:8080/v1
    image_models:
      - "*vision*"
    parsers:
      - tagged
routes:
  - model_glob: "claude-*"
    backend: mlx
cache_max_bytes: 1048576
keepalive_interval_ms: 2000
log_level: verbose
`
	if err := os.WriteFile(configFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := NewConfigWithDir(configDir)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.DefaultBackend().BaseURL; got != "http://mlx.local:8080/v1" {
		t.Errorf("Expected backend base url from file, got %q", got)
	}
	if got := cfg.DefaultBackend().APIKey; got != "sk-local" {
		t.Errorf("Expected backend api key from file, got %q", got)
	}

	b, ok := cfg.GetBackend("mlx")
	if !ok {
		t.Fatal("Expected backend mlx to resolve")
	}
	if len(b.ImageModels) != 1 || b.ImageModels[0] != "*vision*" {
		t.Errorf("Unexpected image_models: %v", b.ImageModels)
	}
	if len(b.Parsers) != 1 || b.Parsers[0] != "tagged" {
		t.Errorf("Unexpected parsers: %v", b.Parsers)
	}

	routes := cfg.GetRoutes()
	if len(routes) != 1 || routes[0].ModelGlob != "claude-*" || routes[0].Backend != "mlx" {
		t.Errorf("Unexpected routes: %v", routes)
	}

	if cfg.GetCacheMaxBytes() != 1048576 {
		t.Errorf("Expected cache_max_bytes 1048576, got %d", cfg.GetCacheMaxBytes())
	}
	if cfg.KeepaliveInterval() != 2*time.Second {
		t.Errorf("Expected keepalive 2s, got %v", cfg.KeepaliveInterval())
	}
	if cfg.GetLogLevel() != "verbose" {
		t.Errorf("Expected log_level verbose, got %q", cfg.GetLogLevel())
	}

	// Keys absent from the file still get defaults
	if cfg.GetListen() != DefaultListen {
		t.Errorf("Expected default listen, got %q", cfg.GetListen())
	}
	if cfg.TerminalWatchdog() != 60*time.Second {
		t.Errorf("Expected default watchdog, got %v", cfg.TerminalWatchdog())
	}
}

func TestConfig_LoadJSON(t *testing.T) {
	configDir := t.TempDir()
	configFile := filepath.Join(configDir, ConfigFileNameJSON)
	content := `{
    "backend_base_url": "http://localhost:9999/v1",
    "listen": "127.0.0.1:8080",
    "admin_secret": "hunter2"
}`
	if err := os.WriteFile(configFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := NewConfigWithDir(configDir)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.ConfigFile != configFile {
		t.Errorf("Expected config.json to be picked up, got %q", cfg.ConfigFile)
	}
	if got := cfg.DefaultBackend().BaseURL; got != "http://localhost:9999/v1" {
		t.Errorf("Expected base url from json, got %q", got)
	}
	if cfg.GetListen() != "127.0.0.1:8080" {
		t.Errorf("Expected listen from json, got %q", cfg.GetListen())
	}
	if !cfg.HasAdminSecret() {
		t.Error("Expected admin secret to be set")
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	configDir := t.TempDir()
	cfg, err := NewConfigWithDir(configDir)
	if err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}

	if err := cfg.SetLogLevel("trace"); err != nil {
		t.Fatalf("Failed to set log level: %v", err)
	}

	reopened, err := NewConfigWithDir(configDir)
	if err != nil {
		t.Fatalf("Failed to reopen config: %v", err)
	}
	if reopened.GetLogLevel() != "trace" {
		t.Errorf("Expected persisted log_level trace, got %q", reopened.GetLogLevel())
	}
	if reopened.GetJWTSecret() != cfg.GetJWTSecret() {
		t.Error("Expected jwt secret to survive reopen")
	}
}

func TestConfig_SetLogLevelRejectsUnknown(t *testing.T) {
	configDir := t.TempDir()
	cfg, err := NewConfigWithDir(configDir)
	if err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}

	if err := cfg.SetLogLevel("chatty"); err == nil {
		t.Error("Expected error for unknown log level")
	}
	if cfg.GetLogLevel() != "basic" {
		t.Errorf("Expected level unchanged, got %q", cfg.GetLogLevel())
	}
}

func TestConfig_ValidateFailures(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad log level", "log_level: noisy\n"},
		{"bad metrics export", "metrics_export: statsd\n"},
		{"otlp without endpoint", "metrics_export: otlp-http\n"},
		{"negative cache", "cache_max_bytes: -1\n"},
		{"backend missing name", "backends:\n  - base_url: http://x/v1\n"},
		{"backend reserved name", "backends:\n  - name: default\n    base_url: http://x/v1\n"},
		{"backend duplicate name", "backends:\n  - name: a\n    base_url: http://x/v1\n  - name: a\n    base_url: http://y/v1\n"},
		{"backend missing url", "backends:\n  - name: a\n"},
		{"backend unknown parser", "backends:\n  - name: a\n    base_url: http://x/v1\n    parsers: [nonesuch]\n"},
		{"route bad glob", "routes:\n  - model_glob: \"[\"\n    backend: default\n"},
		{"route unknown backend", "routes:\n  - model_glob: \"*\"\n    backend: nonesuch\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			configDir := t.TempDir()
			configFile := filepath.Join(configDir, ConfigFileName)
			if err := os.WriteFile(configFile, []byte(tc.content), 0600); err != nil {
				t.Fatalf("Failed to write config file: %v", err)
			}
			if _, err := NewConfigWithDir(configDir); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestConfig_RouteToImplicitDefault(t *testing.T) {
	configDir := t.TempDir()
	configFile := filepath.Join(configDir, ConfigFileName)
	content := "routes:\n  - model_glob: \"*\"\n    backend: default\n"
	if err := os.WriteFile(configFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := NewConfigWithDir(configDir)
	if err != nil {
		t.Fatalf("Expected default route to validate: %v", err)
	}

	b, ok := cfg.GetBackend("default")
	if !ok {
		t.Fatal("Expected implicit backend to resolve")
	}
	if b.BaseURL != DefaultBackendBaseURL {
		t.Errorf("Expected implicit backend url %q, got %q", DefaultBackendBaseURL, b.BaseURL)
	}
}

func TestConfig_ReloadReplacesRemovedKeys(t *testing.T) {
	configDir := t.TempDir()
	configFile := filepath.Join(configDir, ConfigFileName)
	content := "trace_dir: /tmp/traces\nroutes:\n  - model_glob: \"*\"\n    backend: default\n"
	if err := os.WriteFile(configFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := NewConfigWithDir(configDir)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetTraceDir() != "/tmp/traces" {
		t.Fatalf("Expected trace_dir from file, got %q", cfg.GetTraceDir())
	}

	// Rewrite the file without trace_dir or routes and reload
	if err := os.WriteFile(configFile, []byte("log_level: verbose\n"), 0600); err != nil {
		t.Fatalf("Failed to rewrite config file: %v", err)
	}
	if err := cfg.Reload(); err != nil {
		t.Fatalf("Failed to reload: %v", err)
	}

	if cfg.GetTraceDir() != "" {
		t.Errorf("Expected trace_dir cleared after reload, got %q", cfg.GetTraceDir())
	}
	if len(cfg.GetRoutes()) != 0 {
		t.Errorf("Expected routes cleared after reload, got %v", cfg.GetRoutes())
	}
	if cfg.GetLogLevel() != "verbose" {
		t.Errorf("Expected log_level from new file, got %q", cfg.GetLogLevel())
	}
}

func TestConfigWatcher_ReloadOnChange(t *testing.T) {
	configDir := t.TempDir()
	cfg, err := NewConfigWithDir(configDir)
	if err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}

	watcher, err := NewConfigWatcher(cfg)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}

	reloaded := make(chan string, 1)
	watcher.AddCallback(func(c *Config) {
		select {
		case reloaded <- c.GetLogLevel():
		default:
		}
	})

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer watcher.Stop()

	// Modification times need to advance past the recorded stamp
	time.Sleep(50 * time.Millisecond)

	configFile := filepath.Join(configDir, ConfigFileName)
	if err := os.WriteFile(configFile, []byte("log_level: trace\n"), 0600); err != nil {
		t.Fatalf("Failed to rewrite config file: %v", err)
	}
	now := time.Now()
	if err := os.Chtimes(configFile, now, now); err != nil {
		t.Fatalf("Failed to bump mtime: %v", err)
	}

	select {
	case level := <-reloaded:
		if level != "trace" {
			t.Errorf("Expected reloaded log_level trace, got %q", level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for reload callback")
	}
}

func TestConfigWatcher_StartStop(t *testing.T) {
	configDir := t.TempDir()
	cfg, err := NewConfigWithDir(configDir)
	if err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}

	watcher, err := NewConfigWatcher(cfg)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	if err := watcher.Start(); err == nil {
		t.Error("Expected second Start to fail")
	}
	if err := watcher.Stop(); err != nil {
		t.Fatalf("Failed to stop watcher: %v", err)
	}
	if err := watcher.Stop(); err != nil {
		t.Errorf("Expected idempotent Stop, got %v", err)
	}
}
