// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Adapter() AdapterConfig
	Orchestrator() OrchestratorConfig
	Store() StoreConfig
	Services() []ServiceDescriptor
	SelectorsFile() string

	// Browser Setters
	SetBrowserHeadless(bool)

	// Adapter Setters
	SetAdapterResponseTimeout(d time.Duration)
}

// Config holds the entire application configuration.
// Fields are exported for viper, access from other packages goes through the Interface getters.
type Config struct {
	LoggerCfg       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	BrowserCfg      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	AdapterCfg      AdapterConfig      `mapstructure:"adapter" yaml:"adapter"`
	OrchestratorCfg OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	StoreCfg        StoreConfig        `mapstructure:"store" yaml:"store"`
	// ServiceOverrides holds user supplied descriptors. They are merged over the
	// built-in descriptors by ID, see Services.
	ServiceOverrides []ServiceDescriptor `mapstructure:"services" yaml:"services"`
	SelectorsPath    string              `mapstructure:"selectors_file" yaml:"selectors_file"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig             { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig           { return c.BrowserCfg }
func (c *Config) Adapter() AdapterConfig           { return c.AdapterCfg }
func (c *Config) Orchestrator() OrchestratorConfig { return c.OrchestratorCfg }
func (c *Config) Store() StoreConfig               { return c.StoreCfg }
func (c *Config) SelectorsFile() string            { return c.SelectorsPath }

// Services returns the built-in descriptors merged with the user supplied ones.
func (c *Config) Services() []ServiceDescriptor {
	return MergeServices(DefaultServices(), c.ServiceOverrides)
}

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetAdapterResponseTimeout(d time.Duration) {
	c.AdapterCfg.ResponseTimeout = d
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instances hosting the chat pages.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	ProfileDir        string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	Stealth           bool          `mapstructure:"stealth" yaml:"stealth"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ClickHoldMinMs    int           `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs    int           `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`
}

// ResolvedProfileDir expands a leading ~ in ProfileDir.
func (b BrowserConfig) ResolvedProfileDir() (string, error) {
	dir, err := homedir.Expand(b.ProfileDir)
	if err != nil {
		return "", fmt.Errorf("failed to expand profile_dir %q: %w", b.ProfileDir, err)
	}
	return dir, nil
}

// AdapterConfig holds the timing heuristics of the web automation adapters.
// These values were tuned against specific sites and are expected to be overridden
// per service when a new site behaves differently.
type AdapterConfig struct {
	ProbeInterval    time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	SettleDelay      time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StableSamples    int           `mapstructure:"stable_samples" yaml:"stable_samples"`
	StartTimeout     time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
	ResponseTimeout  time.Duration `mapstructure:"response_timeout" yaml:"response_timeout"`
	SentinelCeiling  time.Duration `mapstructure:"sentinel_ceiling" yaml:"sentinel_ceiling"`
	SentinelInterval time.Duration `mapstructure:"sentinel_interval" yaml:"sentinel_interval"`
	NewChatSettle    time.Duration `mapstructure:"new_chat_settle" yaml:"new_chat_settle"`
	LoadTimeout      time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
}

// Merge returns a copy of a where every non-zero field of override wins.
func (a AdapterConfig) Merge(override AdapterConfig) AdapterConfig {
	out := a
	pick := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	pick(&out.ProbeInterval, override.ProbeInterval)
	pick(&out.ProbeTimeout, override.ProbeTimeout)
	pick(&out.SettleDelay, override.SettleDelay)
	pick(&out.PollInterval, override.PollInterval)
	pick(&out.StartTimeout, override.StartTimeout)
	pick(&out.ResponseTimeout, override.ResponseTimeout)
	pick(&out.SentinelCeiling, override.SentinelCeiling)
	pick(&out.SentinelInterval, override.SentinelInterval)
	pick(&out.NewChatSettle, override.NewChatSettle)
	pick(&out.LoadTimeout, override.LoadTimeout)
	if override.StableSamples > 0 {
		out.StableSamples = override.StableSamples
	}
	return out
}

// Validate checks the adapter timings for sane values.
func (a *AdapterConfig) Validate() error {
	if a.ProbeInterval <= 0 || a.PollInterval <= 0 || a.SentinelInterval <= 0 {
		return fmt.Errorf("probe_interval, poll_interval and sentinel_interval must be positive durations")
	}
	if a.StableSamples < 1 {
		return fmt.Errorf("stable_samples must be at least 1")
	}
	if a.ResponseTimeout <= 0 {
		return fmt.Errorf("response_timeout must be a positive duration")
	}
	return nil
}

// OrchestratorConfig controls pacing across turns sent to the same service.
type OrchestratorConfig struct {
	SendInterval time.Duration `mapstructure:"send_interval" yaml:"send_interval"`
	SendBurst    int           `mapstructure:"send_burst" yaml:"send_burst"`
}

// Transcript store drivers.
const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
	StoreDriverNone     = "none"
)

// StoreConfig selects the transcript backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // sqlite, postgres or none
	Path   string `mapstructure:"path" yaml:"path"`
	URL    string `mapstructure:"url" yaml:"url"`
}

// Validate checks the store configuration.
func (s *StoreConfig) Validate() error {
	switch s.Driver {
	case "", StoreDriverNone:
		return nil
	case StoreDriverSQLite:
		if s.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case StoreDriverPostgres:
		if s.URL == "" {
			return fmt.Errorf("store.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported store.driver %q", s.Driver)
	}
	return nil
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "chatloom")
	v.SetDefault("logger.log_file", "chatloom.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.profile_dir", "~/.chatloom/profiles")
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.click_hold_min_ms", 50)
	v.SetDefault("browser.click_hold_max_ms", 120)

	// -- Adapter --
	v.SetDefault("adapter.probe_interval", "250ms")
	v.SetDefault("adapter.probe_timeout", "10s")
	v.SetDefault("adapter.settle_delay", "300ms")
	v.SetDefault("adapter.poll_interval", "1s")
	v.SetDefault("adapter.stable_samples", 3)
	v.SetDefault("adapter.start_timeout", "20s")
	v.SetDefault("adapter.response_timeout", "90s")
	v.SetDefault("adapter.sentinel_ceiling", "30s")
	v.SetDefault("adapter.sentinel_interval", "1s")
	v.SetDefault("adapter.new_chat_settle", "1500ms")
	v.SetDefault("adapter.load_timeout", "30s")

	// -- Orchestrator --
	v.SetDefault("orchestrator.send_interval", "2s")
	v.SetDefault("orchestrator.send_burst", 1)

	// -- Store --
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "chatloom.db")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("store.url", "CHATLOOM_STORE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the DSN if Unmarshal didn't pick it up
	if cfg.StoreCfg.Driver == "postgres" && cfg.StoreCfg.URL == "" {
		cfg.StoreCfg.URL = os.Getenv("CHATLOOM_STORE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.AdapterCfg.Validate(); err != nil {
		return fmt.Errorf("adapter configuration invalid: %w", err)
	}
	if c.OrchestratorCfg.SendBurst < 0 {
		return fmt.Errorf("orchestrator.send_burst must not be negative")
	}
	if err := c.StoreCfg.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if c.BrowserCfg.ClickHoldMaxMs < c.BrowserCfg.ClickHoldMinMs {
		return fmt.Errorf("browser.click_hold_max_ms must be >= browser.click_hold_min_ms")
	}
	seen := make(map[string]bool)
	for _, s := range c.ServiceOverrides {
		if s.ID == "" {
			return fmt.Errorf("services: every entry needs an id")
		}
		if seen[s.ID] {
			return fmt.Errorf("services: duplicate id %q", s.ID)
		}
		seen[s.ID] = true
	}
	for _, s := range c.Services() {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("service %q invalid: %w", s.ID, err)
		}
	}
	return nil
}
