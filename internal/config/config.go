package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/lmbridge/lmbridge/internal/obs"
	"github.com/lmbridge/lmbridge/internal/protocol/dialect"
)

// BackendNameDefault names the implicit backend assembled from
// backend_base_url and backend_api_key. Routes may target it; entries in
// backends must not claim the name.
const BackendNameDefault = "default"

// Metrics export modes accepted for metrics_export.
const (
	MetricsExportNone     = "none"
	MetricsExportStdout   = "stdout"
	MetricsExportOTLPHTTP = "otlp-http"
	MetricsExportOTLPGRPC = "otlp-grpc"
)

// Defaults applied on first run and for keys absent from the file.
const (
	DefaultBackendBaseURL      = "http://localhost:1234/v1"
	DefaultListen              = "127.0.0.1:18789"
	DefaultKeepaliveIntervalMs = 10000
	DefaultTerminalWatchdogMs  = 60000
	DefaultDrainTimeoutMs      = 5000
)

// Backend is a named upstream that inbound models can be routed to.
type Backend struct {
	Name    string `yaml:"name" json:"name"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// ImageModels lists doublestar globs of models that accept image
	// blocks; everything else gets a text placeholder.
	ImageModels []string `yaml:"image_models,omitempty" json:"image_models,omitempty"`

	// Parsers orders the tool-call dialect parsers tried on this
	// backend's text output. Empty means the built-in default order.
	Parsers []string `yaml:"parsers,omitempty" json:"parsers,omitempty"`
}

// Route maps inbound model names onto a backend by glob pattern. Routes
// are evaluated in order; the first match wins.
type Route struct {
	ModelGlob string `yaml:"model_glob" json:"model_glob"`
	Backend   string `yaml:"backend" json:"backend"`
}

// Config represents the proxy configuration
type Config struct {
	BackendBaseURL string `yaml:"backend_base_url" json:"backend_base_url"`
	BackendAPIKey  string `yaml:"backend_api_key,omitempty" json:"backend_api_key,omitempty"`

	Backends []Backend `yaml:"backends,omitempty" json:"backends,omitempty"`
	Routes   []Route   `yaml:"routes,omitempty" json:"routes,omitempty"`

	CacheMaxBytes int64    `yaml:"cache_max_bytes" json:"cache_max_bytes"`
	CacheRules    []string `yaml:"cache_rules,omitempty" json:"cache_rules,omitempty"`

	KeepaliveIntervalMs int `yaml:"keepalive_interval_ms" json:"keepalive_interval_ms"`
	TerminalWatchdogMs  int `yaml:"terminal_watchdog_ms" json:"terminal_watchdog_ms"`
	DrainTimeoutMs      int `yaml:"drain_timeout_ms" json:"drain_timeout_ms"`

	TraceDir    string `yaml:"trace_dir,omitempty" json:"trace_dir,omitempty"`
	TraceFilter string `yaml:"trace_filter,omitempty" json:"trace_filter,omitempty"`
	RequestLog  string `yaml:"request_log,omitempty" json:"request_log,omitempty"`
	LogLevel    string `yaml:"log_level" json:"log_level"`

	Listen        string `yaml:"listen" json:"listen"`
	MetricsExport string `yaml:"metrics_export" json:"metrics_export"`
	OTLPEndpoint  string `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty"`

	AdminSecret string `yaml:"admin_secret,omitempty" json:"admin_secret,omitempty"`
	JWTSecret   string `yaml:"jwt_secret,omitempty" json:"jwt_secret,omitempty"`

	ConfigFile string `yaml:"-" json:"-"` // Not serialized (preserved across reloads)

	mu sync.RWMutex
}

// NewConfig creates the configuration manager rooted at ~/.lmbridge.
func NewConfig() (*Config, error) {
	return NewConfigWithDir(DefaultConfigDir())
}

// NewConfigWithDir creates a configuration manager with a custom config
// directory. A missing directory is created; a missing file is written
// with defaults.
func NewConfigWithDir(configDir string) (*Config, error) {
	if configDir == "" {
		return nil, fmt.Errorf("config directory is empty")
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	return LoadFile(findConfigFile(configDir))
}

// LoadFile loads configuration from an explicit path (--config flag).
// The extension picks the codec: .json decodes as JSON, everything else
// as YAML.
func LoadFile(configFile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("config file path is empty")
	}

	cfg := &Config{ConfigFile: configFile}
	if err := cfg.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if cfg.applyDefaults() {
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to write config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile prefers an existing config.yaml, then config.json. A
// fresh directory gets the YAML default.
func findConfigFile(configDir string) string {
	yamlFile := filepath.Join(configDir, ConfigFileName)
	if _, err := os.Stat(yamlFile); err == nil {
		return yamlFile
	}
	jsonFile := filepath.Join(configDir, ConfigFileNameJSON)
	if _, err := os.Stat(jsonFile); err == nil {
		return jsonFile
	}
	return yamlFile
}

// load reads the config file into c. Decoding goes through a fresh
// struct so keys removed from the file do not linger after a reload.
func (c *Config) load() error {
	configFile := c.ConfigFile

	data, err := os.ReadFile(configFile)
	if err != nil {
		return err
	}

	var fresh Config
	if strings.HasSuffix(configFile, ".json") {
		if err := json.Unmarshal(data, &fresh); err != nil {
			return fmt.Errorf("failed to parse %s: %w", configFile, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &fresh); err != nil {
			return fmt.Errorf("failed to parse %s: %w", configFile, err)
		}
	}

	c.mu.Lock()
	c.copyFrom(&fresh)
	c.ConfigFile = configFile
	c.mu.Unlock()
	return nil
}

// copyFrom replaces every data field. Caller holds the write lock.
func (c *Config) copyFrom(src *Config) {
	c.BackendBaseURL = src.BackendBaseURL
	c.BackendAPIKey = src.BackendAPIKey
	c.Backends = src.Backends
	c.Routes = src.Routes
	c.CacheMaxBytes = src.CacheMaxBytes
	c.CacheRules = src.CacheRules
	c.KeepaliveIntervalMs = src.KeepaliveIntervalMs
	c.TerminalWatchdogMs = src.TerminalWatchdogMs
	c.DrainTimeoutMs = src.DrainTimeoutMs
	c.TraceDir = src.TraceDir
	c.TraceFilter = src.TraceFilter
	c.RequestLog = src.RequestLog
	c.LogLevel = src.LogLevel
	c.Listen = src.Listen
	c.MetricsExport = src.MetricsExport
	c.OTLPEndpoint = src.OTLPEndpoint
	c.AdminSecret = src.AdminSecret
	c.JWTSecret = src.JWTSecret
}

// applyDefaults fills zero-valued keys and reports whether anything
// changed.
func (c *Config) applyDefaults() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated := false
	if c.BackendBaseURL == "" {
		c.BackendBaseURL = DefaultBackendBaseURL
		updated = true
	}
	if c.KeepaliveIntervalMs == 0 {
		c.KeepaliveIntervalMs = DefaultKeepaliveIntervalMs
		updated = true
	}
	if c.TerminalWatchdogMs == 0 {
		c.TerminalWatchdogMs = DefaultTerminalWatchdogMs
		updated = true
	}
	if c.DrainTimeoutMs == 0 {
		c.DrainTimeoutMs = DefaultDrainTimeoutMs
		updated = true
	}
	if c.LogLevel == "" {
		c.LogLevel = obs.LogLevelBasic
		updated = true
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
		updated = true
	}
	if c.MetricsExport == "" {
		c.MetricsExport = MetricsExportNone
		updated = true
	}
	if c.JWTSecret == "" {
		c.JWTSecret = generateSecret()
		updated = true
	}
	return updated
}

// Validate checks the configuration for structural errors: unknown
// enum values, bad glob patterns, routes naming absent backends.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !obs.IsValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level %q (want off, basic, verbose or trace)", c.LogLevel)
	}

	switch c.MetricsExport {
	case "", MetricsExportNone, MetricsExportStdout:
	case MetricsExportOTLPHTTP, MetricsExportOTLPGRPC:
		if c.OTLPEndpoint == "" {
			return fmt.Errorf("metrics_export %q requires otlp_endpoint", c.MetricsExport)
		}
	default:
		return fmt.Errorf("invalid metrics_export %q", c.MetricsExport)
	}

	if c.CacheMaxBytes < 0 {
		return fmt.Errorf("cache_max_bytes must not be negative")
	}
	if c.KeepaliveIntervalMs <= 0 || c.TerminalWatchdogMs <= 0 || c.DrainTimeoutMs <= 0 {
		return fmt.Errorf("keepalive_interval_ms, terminal_watchdog_ms and drain_timeout_ms must be positive")
	}

	names := make(map[string]bool, len(c.Backends))
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.Name == "" {
			return fmt.Errorf("backends[%d]: name is required", i)
		}
		if b.Name == BackendNameDefault {
			return fmt.Errorf("backends[%d]: name %q is reserved for the implicit backend", i, BackendNameDefault)
		}
		if names[b.Name] {
			return fmt.Errorf("backends[%d]: duplicate name %q", i, b.Name)
		}
		names[b.Name] = true
		if b.BaseURL == "" {
			return fmt.Errorf("backend %q: base_url is required", b.Name)
		}
		for _, pattern := range b.ImageModels {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("backend %q: invalid image_models pattern %q", b.Name, pattern)
			}
		}
		if _, err := dialect.ParsersFor(b.Parsers); err != nil {
			return fmt.Errorf("backend %q: %w", b.Name, err)
		}
	}

	for i, r := range c.Routes {
		if _, err := glob.Compile(r.ModelGlob); err != nil {
			return fmt.Errorf("routes[%d]: invalid model_glob %q: %w", i, r.ModelGlob, err)
		}
		if r.Backend != "" && r.Backend != BackendNameDefault && !names[r.Backend] {
			return fmt.Errorf("routes[%d]: unknown backend %q", i, r.Backend)
		}
	}
	return nil
}

// Save writes the configuration to its file, creating parent
// directories as needed. The file may hold backend keys, so it is
// written owner-only.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.ConfigFile == "" {
		return fmt.Errorf("ConfigFile is empty")
	}

	var data []byte
	var err error
	if strings.HasSuffix(c.ConfigFile, ".json") {
		data, err = json.MarshalIndent(c, "", "    ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.ConfigFile), 0700); err != nil {
		return err
	}
	return os.WriteFile(c.ConfigFile, data, 0600)
}

// Reload re-reads the config file, refills defaults and validates. The
// in-memory state is untouched when the file fails to parse, but a file
// that parses and then fails validation has already been applied;
// callers treat a Reload error as "keep running on previous wiring".
func (c *Config) Reload() error {
	if err := c.load(); err != nil {
		return err
	}
	c.applyDefaults()
	return c.Validate()
}

// DefaultBackend returns the implicit backend assembled from
// backend_base_url and backend_api_key.
func (c *Config) DefaultBackend() Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Backend{
		Name:    BackendNameDefault,
		BaseURL: c.BackendBaseURL,
		APIKey:  c.BackendAPIKey,
	}
}

// GetBackend resolves a backend by name. Empty and "default" both mean
// the implicit backend.
func (c *Config) GetBackend(name string) (Backend, bool) {
	if name == "" || name == BackendNameDefault {
		return c.DefaultBackend(), true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return Backend{}, false
}

// GetBackends returns a copy of the named backend entries.
func (c *Config) GetBackends() []Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Backend, len(c.Backends))
	copy(out, c.Backends)
	return out
}

// GetRoutes returns a copy of the routing table.
func (c *Config) GetRoutes() []Route {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Route, len(c.Routes))
	copy(out, c.Routes)
	return out
}

func (c *Config) GetCacheMaxBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.CacheMaxBytes
}

func (c *Config) GetCacheRules() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.CacheRules))
	copy(out, c.CacheRules)
	return out
}

// KeepaliveInterval is the idle period between SSE keepalive comments
// while the first upstream chunk is pending.
func (c *Config) KeepaliveInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.KeepaliveIntervalMs) * time.Millisecond
}

// TerminalWatchdog bounds how long a stream may go without any upstream
// activity before a terminal event is synthesized.
func (c *Config) TerminalWatchdog() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.TerminalWatchdogMs) * time.Millisecond
}

// DrainTimeout bounds the wait for queued frames to flush after the
// upstream finishes.
func (c *Config) DrainTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.DrainTimeoutMs) * time.Millisecond
}

func (c *Config) GetTraceDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TraceDir
}

func (c *Config) GetTraceFilter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TraceFilter
}

func (c *Config) GetRequestLog() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RequestLog
}

func (c *Config) GetLogLevel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LogLevel
}

// SetLogLevel updates and persists the log level.
func (c *Config) SetLogLevel(level string) error {
	if !obs.IsValidLogLevel(level) {
		return fmt.Errorf("invalid log_level %q", level)
	}
	c.mu.Lock()
	c.LogLevel = level
	c.mu.Unlock()
	return c.Save()
}

func (c *Config) GetListen() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Listen
}

// Dir returns the directory holding the active config file. Lock and
// state files live next to it.
func (c *Config) Dir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filepath.Dir(c.ConfigFile)
}

func (c *Config) GetMetricsExport() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MetricsExport
}

func (c *Config) GetOTLPEndpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.OTLPEndpoint
}

func (c *Config) GetAdminSecret() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AdminSecret
}

// HasAdminSecret reports whether the metrics endpoint is gated.
func (c *Config) HasAdminSecret() bool {
	return c.GetAdminSecret() != ""
}

func (c *Config) GetJWTSecret() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.JWTSecret
}

// generateSecret produces a random hex secret for signing admin tokens.
func generateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based if crypto rand fails
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
